package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studybuddy-backend/internal/handlers"
	"studybuddy-backend/internal/middleware"
	"studybuddy-backend/internal/realtime"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	messageHandler *handlers.MessageHandler,
	hub *realtime.Hub,
	fileRoot string,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Public chat attachments (images, PDFs)
	r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(fileRoot))))

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			// Logout requires auth
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// ──── User & Profile Routes ────
		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", authHandler.GetMe)
			r.Put("/profile", authHandler.CompleteProfile)
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/start", sessionHandler.Start)
			r.Post("/{id}/heartbeat", sessionHandler.Heartbeat)
			r.Patch("/{id}", sessionHandler.Update)
			r.Get("/mine", sessionHandler.Mine)
			r.Get("/roster", sessionHandler.Roster)
			r.Delete("/", sessionHandler.Leave)
		})

		// ──── Message Routes ────
		r.Route("/messages", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", messageHandler.Send)
			r.Post("/attachment", messageHandler.SendAttachment)
			r.Get("/inbox", messageHandler.Inbox)
			r.Get("/conversation/{userID}", messageHandler.Conversation)
			r.Put("/conversation/{userID}/read", messageHandler.MarkConversationRead)
			r.Put("/{id}/read", messageHandler.MarkRead)
			r.Delete("/{id}/attachment", messageHandler.DeleteAttachment)
		})

		// ──── WebSocket ────
		r.Get("/ws", hub.HandleWebSocket)
	})

	return r
}
