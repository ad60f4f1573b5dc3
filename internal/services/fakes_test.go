package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studybuddy-backend/internal/models"
)

// In-memory store doubles. They mirror the backend contracts the services
// depend on, including the upsert-on-conflict semantics the real sessions
// table provides.

type memDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: make(map[uuid.UUID]*models.User)}
}

func (d *memDirectory) addUser(fullName, studentID string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	u := &models.User{ID: id, FullName: fullName, IsActive: true}
	if studentID != "" {
		u.StudentID = &studentID
	}
	d.users[id] = u
	return id
}

func (d *memDirectory) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (d *memDirectory) DisplayName(ctx context.Context, userID uuid.UUID) (*string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	name := u.FullName
	return &name, nil
}

type feedRecord struct {
	Table string
	Event string
	Row   any
}

type recordingFeed struct {
	mu      sync.Mutex
	records []feedRecord
}

func (f *recordingFeed) PublishSession(ctx context.Context, event string, s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.records = append(f.records, feedRecord{Table: models.TableSessions, Event: event, Row: &copied})
}

func (f *recordingFeed) PublishMessage(ctx context.Context, event string, m *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *m
	f.records = append(f.records, feedRecord{Table: models.TableMessages, Event: event, Row: &copied})
}

func (f *recordingFeed) events() []feedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feedRecord(nil), f.records...)
}

type memSessionStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Session // keyed by user_id: one row per user
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{rows: make(map[uuid.UUID]*models.Session)}
}

func (s *memSessionStore) seed(row models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	s.rows[row.UserID] = &row
}

func (s *memSessionStore) Upsert(ctx context.Context, in *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.rows[in.UserID]
	if ok {
		// Conflict branch: keep the row identity, overwrite broadcast fields.
		in.ID = existing.ID
		in.CreatedAt = existing.CreatedAt
	} else {
		in.ID = uuid.New()
		in.CreatedAt = now
	}
	in.LastActive = now

	copied := *in
	s.rows[in.UserID] = &copied
	return nil
}

func (s *memSessionStore) Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == sessionID && row.UserID == userID {
			row.LastActive = time.Now()
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (s *memSessionStore) Update(ctx context.Context, sessionID, userID uuid.UUID, req models.UpdateSessionRequest) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]
	if !ok || row.ID != sessionID {
		return nil, pgx.ErrNoRows
	}

	if req.WorkingOn != nil {
		row.WorkingOn = nullIfBlank(*req.WorkingOn)
	}
	if req.Location != nil {
		row.Location = nullIfBlank(*req.Location)
	}
	if req.Status != nil {
		row.Status = *req.Status
	}
	row.LastActive = time.Now()

	copied := *row
	return &copied, nil
}

func (s *memSessionStore) Mine(ctx context.Context, userID uuid.UUID, threshold time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]
	if !ok {
		return nil, nil
	}
	if row.Status != models.StatusActive && row.Status != models.StatusBreak {
		return nil, nil
	}
	if !row.LastActive.After(threshold) {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *memSessionStore) Roster(ctx context.Context, excludeUserID uuid.UUID, threshold time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Session, 0)
	for _, row := range s.rows {
		if row.UserID == excludeUserID || row.Status != models.StatusActive {
			continue
		}
		if !row.LastActive.After(threshold) {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

func (s *memSessionStore) EvictStale(ctx context.Context, threshold time.Time) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := make([]models.Session, 0)
	for userID, row := range s.rows {
		if !row.LastActive.After(threshold) {
			evicted = append(evicted, *row)
			delete(s.rows, userID)
		}
	}
	return evicted, nil
}

func (s *memSessionStore) Leave(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]
	if !ok {
		return []models.Session{}, nil
	}
	delete(s.rows, userID)
	return []models.Session{*row}, nil
}

func (s *memSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func nullIfBlank(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type memMessageStore struct {
	mu   sync.Mutex
	rows []*models.Message
	seq  int
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{}
}

func (s *memMessageStore) Insert(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = uuid.New()
	// Monotonic timestamps so ordering assertions are deterministic.
	s.seq++
	m.CreatedAt = time.Unix(0, 0).Add(time.Duration(s.seq) * time.Second)
	m.Read = false

	copied := *m
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *memMessageStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			copied := *row
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memMessageStore) ListInbox(ctx context.Context, userID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0)
	for _, row := range s.rows {
		if row.ToUser == userID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memMessageStore) ListConversation(ctx context.Context, a, b uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0)
	for _, row := range s.rows {
		if (row.FromUser == a && row.ToUser == b) || (row.FromUser == b && row.ToUser == a) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memMessageStore) MarkRead(ctx context.Context, messageID, recipientID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped int64
	for _, row := range s.rows {
		if row.ID == messageID && row.ToUser == recipientID && !row.Read {
			row.Read = true
			flipped++
		}
	}
	return flipped, nil
}

func (s *memMessageStore) MarkConversationRead(ctx context.Context, recipientID, otherID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped int64
	for _, row := range s.rows {
		if row.ToUser == recipientID && row.FromUser == otherID && !row.Read {
			row.Read = true
			flipped++
		}
	}
	return flipped, nil
}

func (s *memMessageStore) ClearAttachment(ctx context.Context, messageID uuid.UUID, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == messageID {
			row.AttachmentURL = nil
			row.Text = text
			copied := *row
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memObjectStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failRemove bool
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (s *memObjectStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return nil
}

func (s *memObjectStore) PublicURL(path string) string {
	return "https://cdn.test/files/" + path
}

func (s *memObjectStore) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemove {
		return fmt.Errorf("storage: remove failed: backend unavailable")
	}
	delete(s.objects, path)
	return nil
}

func (s *memObjectStore) PathFromURL(url string) (string, bool) {
	marker := "/files/"
	idx := strings.Index(url, marker)
	if idx == -1 {
		return "", false
	}
	return url[idx+len(marker):], true
}

func (s *memObjectStore) has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}
