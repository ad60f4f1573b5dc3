package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"studybuddy-backend/internal/models"
	"studybuddy-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub bridges the Redis change feed to WebSocket clients. Each client holds
// view subscriptions (roster, inbox, conversations); every subscription
// refreshes from the same fetch path on two triggers — a poll ticker and
// feed events — so a silently dead feed degrades to plain polling instead
// of stale views.
type Hub struct {
	mu          sync.RWMutex
	clients     map[uuid.UUID][]*client
	cancelFuncs map[uuid.UUID]context.CancelFunc

	redisClient  *redis.Client
	jwtSecret    []byte
	sessions     *services.SessionService
	messages     *services.MessageService
	pollInterval time.Duration
}

func NewHub(redisClient *redis.Client, jwtSecret string, sessions *services.SessionService, messages *services.MessageService, pollInterval time.Duration) *Hub {
	return &Hub{
		clients:      make(map[uuid.UUID][]*client),
		cancelFuncs:  make(map[uuid.UUID]context.CancelFunc),
		redisClient:  redisClient,
		jwtSecret:    []byte(jwtSecret),
		sessions:     sessions,
		messages:     messages,
		pollInterval: pollInterval,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userIDStr, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(h, userID, conn)
	h.register(c)

	go func() {
		defer h.unregister(c)
		c.readLoop()
	}()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.userID] = append(h.clients[c.userID], c)

	// First connection for this user starts the per-user feed subscription.
	if len(h.clients[c.userID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[c.userID] = cancel
		go h.subscribeFeed(ctx, c.userID)
	}

	log.Printf("WebSocket connected: user %s (total: %d)", c.userID, len(h.clients[c.userID]))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.teardown()

	conns := h.clients[c.userID]
	for i, other := range conns {
		if other == c {
			h.clients[c.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
		if cancel, ok := h.cancelFuncs[c.userID]; ok {
			cancel()
			delete(h.cancelFuncs, c.userID)
		}
	}

	log.Printf("WebSocket disconnected: user %s", c.userID)
}

// subscribeFeed pumps the user's feed channels into their connected
// clients. Envelopes are used for routing only; each client re-fetches the
// affected view instead of patching from the payload.
func (h *Hub) subscribeFeed(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, sessionsChannel, messagesChannel(userID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env models.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("feed: bad envelope: %v", err)
				continue
			}

			h.mu.RLock()
			clients := append([]*client(nil), h.clients[userID]...)
			h.mu.RUnlock()

			for _, c := range clients {
				c.handleEvent(env)
			}
		}
	}
}
