package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studybuddy-backend/internal/models"
	"studybuddy-backend/internal/presence"
	"studybuddy-backend/internal/roster"
)

// DefaultWorkingOn is stored when a student starts a session without saying
// what they are working on.
const DefaultWorkingOn = "Studying"

// SessionStore is the relational contract the session service depends on.
// *repository.SessionRepo is the production implementation.
type SessionStore interface {
	Upsert(ctx context.Context, s *models.Session) error
	Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error
	Update(ctx context.Context, sessionID, userID uuid.UUID, req models.UpdateSessionRequest) (*models.Session, error)
	Mine(ctx context.Context, userID uuid.UUID, threshold time.Time) (*models.Session, error)
	Roster(ctx context.Context, excludeUserID uuid.UUID, threshold time.Time) ([]models.Session, error)
	EvictStale(ctx context.Context, threshold time.Time) ([]models.Session, error)
	Leave(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
}

// Directory resolves user identities to profile data.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	DisplayName(ctx context.Context, userID uuid.UUID) (*string, error)
}

type SessionService struct {
	sessions SessionStore
	users    Directory
	feed     ChangeFeed
}

func NewSessionService(sessions SessionStore, users Directory, feed ChangeFeed) *SessionService {
	return &SessionService{sessions: sessions, users: users, feed: feed}
}

// Start upserts the caller's session row. The store's conflict target on
// user_id is what resolves concurrent starts from multiple tabs; this layer
// only validates and normalizes.
func (s *SessionService) Start(ctx context.Context, userID uuid.UUID, req models.StartSessionRequest) (*models.Session, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &UnauthorizedError{Message: "Not authenticated"}
		}
		return nil, err
	}
	if user.StudentID == nil || user.FullName == "" {
		return nil, &ValidationError{Fields: map[string]string{
			"profile": "Complete your profile (name and student ID) before starting a session",
		}}
	}

	course := strings.ToUpper(strings.TrimSpace(req.CourseCode))
	if course == "" {
		return nil, &ValidationError{Fields: map[string]string{
			"course_code": "Course code is required",
		}}
	}

	workingOn := strings.TrimSpace(req.WorkingOn)
	if workingOn == "" {
		workingOn = DefaultWorkingOn
	}

	session := &models.Session{
		UserID:     userID,
		Name:       user.FullName,
		StudentID:  *user.StudentID,
		CourseCode: course,
		WorkingOn:  &workingOn,
		Location:   optional(req.Location),
		Status:     models.StatusActive,
	}

	if err := s.sessions.Upsert(ctx, session); err != nil {
		return nil, err
	}

	s.feed.PublishSession(ctx, models.EventInsert, session)
	return session, nil
}

// Heartbeat refreshes last_active on the caller's own session. A missing
// row means another tab already left; that race is expected and only
// logged — the caller's next roster fetch reconciles it. A session id
// belonging to someone else lands in the same branch and refreshes nothing.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return &UnauthorizedError{Message: "Not authenticated"}
	}

	err := s.sessions.Heartbeat(ctx, sessionID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Printf("heartbeat for missing session %s (deleted elsewhere)", sessionID)
		return nil
	}
	return err
}

func (s *SessionService) Update(ctx context.Context, sessionID, userID uuid.UUID, req models.UpdateSessionRequest) (*models.Session, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}
	if req.Status != nil && *req.Status != models.StatusActive && *req.Status != models.StatusBreak {
		return nil, &ValidationError{Fields: map[string]string{
			"status": "Status must be active or break",
		}}
	}

	session, err := s.sessions.Update(ctx, sessionID, userID, req)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Session not found"}
		}
		return nil, err
	}

	s.feed.PublishSession(ctx, models.EventUpdate, session)
	return session, nil
}

// Mine returns the caller's session if it is still inside the staleness
// window, nil otherwise.
func (s *SessionService) Mine(ctx context.Context, userID uuid.UUID) (*models.Session, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}
	return s.sessions.Mine(ctx, userID, presence.Threshold(time.Now()))
}

// Roster evicts rows that have fallen out of the window, then returns the
// filtered view of everyone else's fresh sessions. Eviction happens at read
// time — there is no background sweeper — and its failures never block the
// read itself.
func (s *SessionService) Roster(ctx context.Context, userID uuid.UUID, filter roster.Filter) (roster.View, error) {
	threshold := presence.Threshold(time.Now())

	evicted, err := s.sessions.EvictStale(ctx, threshold)
	if err != nil {
		log.Printf("stale session eviction failed: %v", err)
	}
	for i := range evicted {
		s.feed.PublishSession(ctx, models.EventDelete, &evicted[i])
	}

	snapshot, err := s.sessions.Roster(ctx, userID, threshold)
	if err != nil {
		return roster.View{}, err
	}

	return roster.Build(snapshot, filter), nil
}

// Leave hard-deletes the caller's sessions. Idempotent: leaving twice is a
// no-op the second time.
func (s *SessionService) Leave(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return &UnauthorizedError{Message: "Not authenticated"}
	}

	deleted, err := s.sessions.Leave(ctx, userID)
	if err != nil {
		return err
	}
	for i := range deleted {
		s.feed.PublishSession(ctx, models.EventDelete, &deleted[i])
	}
	return nil
}

func optional(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
