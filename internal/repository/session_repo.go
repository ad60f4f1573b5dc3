package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studybuddy-backend/internal/models"
)

const sessionColumns = `id, user_id, name, student_id, course_code, working_on, location, status, last_active, created_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

// Upsert creates or replaces the caller's session row. The unique index on
// user_id is what guarantees at most one row per user even when tabs race;
// the conflict branch overwrites every broadcast field and refreshes
// last_active, so a fresh Start supersedes a stale row in place.
func (r *SessionRepo) Upsert(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (user_id, name, student_id, course_code, working_on, location, status, last_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			student_id = EXCLUDED.student_id,
			course_code = EXCLUDED.course_code,
			working_on = EXCLUDED.working_on,
			location = EXCLUDED.location,
			status = EXCLUDED.status,
			last_active = NOW()
		RETURNING id, last_active, created_at
	`

	return r.pool.QueryRow(ctx, query,
		s.UserID, s.Name, s.StudentID, s.CourseCode, s.WorkingOn, s.Location, s.Status,
	).Scan(&s.ID, &s.LastActive, &s.CreatedAt)
}

// Heartbeat refreshes last_active only. Scoped to the owner: roster rows
// expose session ids, so without the user_id check anyone could keep a
// peer's session alive forever. Returns pgx.ErrNoRows when no owned row
// matches (deleted by another tab, or not the caller's); callers treat that
// as benign.
func (r *SessionRepo) Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET last_active = NOW()
		WHERE id = $1
		  AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Update applies a partial edit and bumps last_active. Blank strings are
// stored as NULL so a cleared field cannot resurrect a stale value on the
// next read. Returns the updated row.
func (r *SessionRepo) Update(ctx context.Context, sessionID, userID uuid.UUID, req models.UpdateSessionRequest) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET working_on = CASE WHEN $3::bool THEN NULLIF(TRIM($4::text), '') ELSE working_on END,
			location = CASE WHEN $5::bool THEN NULLIF(TRIM($6::text), '') ELSE location END,
			status = CASE WHEN $7::bool THEN $8::text ELSE status END,
			last_active = NOW()
		WHERE id = $1
		  AND user_id = $2
		RETURNING ` + sessionColumns

	var workingOn, location, status string
	if req.WorkingOn != nil {
		workingOn = *req.WorkingOn
	}
	if req.Location != nil {
		location = *req.Location
	}
	if req.Status != nil {
		status = *req.Status
	}

	s := &models.Session{}
	err := r.pool.QueryRow(ctx, query,
		sessionID, userID,
		req.WorkingOn != nil, workingOn,
		req.Location != nil, location,
		req.Status != nil, status,
	).Scan(
		&s.ID, &s.UserID, &s.Name, &s.StudentID, &s.CourseCode,
		&s.WorkingOn, &s.Location, &s.Status, &s.LastActive, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Mine returns the caller's own session if it is still inside the staleness
// window, nil otherwise. A stale row is "no active session", never an
// expired session to display.
func (r *SessionRepo) Mine(ctx context.Context, userID uuid.UUID, threshold time.Time) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		  AND status IN ('active', 'break')
		  AND last_active > $2
		ORDER BY last_active DESC
		LIMIT 1
	`

	s := &models.Session{}
	err := r.pool.QueryRow(ctx, query, userID, threshold).Scan(
		&s.ID, &s.UserID, &s.Name, &s.StudentID, &s.CourseCode,
		&s.WorkingOn, &s.Location, &s.Status, &s.LastActive, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Roster lists everyone else's fresh active sessions, newest first.
func (r *SessionRepo) Roster(ctx context.Context, excludeUserID uuid.UUID, threshold time.Time) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'active'
		  AND last_active > $2
		  AND user_id <> $1
		ORDER BY last_active DESC
	`, excludeUserID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Name, &s.StudentID, &s.CourseCode,
			&s.WorkingOn, &s.Location, &s.Status, &s.LastActive, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// EvictStale hard-deletes rows that have fallen out of the window. Invoked
// by readers (read-time eviction), not by a background sweeper. Returns the
// deleted rows so the change feed can announce them.
func (r *SessionRepo) EvictStale(ctx context.Context, threshold time.Time) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM sessions
		WHERE last_active <= $1
		RETURNING `+sessionColumns, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	evicted := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Name, &s.StudentID, &s.CourseCode,
			&s.WorkingOn, &s.Location, &s.Status, &s.LastActive, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		evicted = append(evicted, s)
	}

	return evicted, rows.Err()
}

// Leave marks the caller's sessions inactive so they vanish from active
// views at once, then hard-deletes them. Idempotent: deleting nothing is
// not an error. Returns the deleted rows for the change feed.
func (r *SessionRepo) Leave(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	// Best effort; the delete below is what matters.
	_, _ = r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'inactive', last_active = NOW()
		WHERE user_id = $1
	`, userID)

	rows, err := r.pool.Query(ctx, `
		DELETE FROM sessions
		WHERE user_id = $1
		RETURNING `+sessionColumns, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deleted := make([]models.Session, 0)
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Name, &s.StudentID, &s.CourseCode,
			&s.WorkingOn, &s.Location, &s.Status, &s.LastActive, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		deleted = append(deleted, s)
	}

	return deleted, rows.Err()
}
