package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studybuddy-backend/internal/models"
)

const messageColumns = `id, from_user, to_user, text, attachment_url, from_name, to_name, read, created_at`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Insert(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (from_user, to_user, text, attachment_url, from_name, to_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, read, created_at
	`

	return r.pool.QueryRow(ctx, query,
		m.FromUser, m.ToUser, m.Text, m.AttachmentURL, m.FromName, m.ToName,
	).Scan(&m.ID, &m.Read, &m.CreatedAt)
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	m := &models.Message{}
	err := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = $1
	`, id).Scan(
		&m.ID, &m.FromUser, &m.ToUser, &m.Text, &m.AttachmentURL,
		&m.FromName, &m.ToName, &m.Read, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListInbox returns every message addressed to userID, newest first. The
// service groups these into per-counterpart conversation summaries.
func (r *MessageRepo) ListInbox(ctx context.Context, userID uuid.UUID) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE to_user = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListConversation returns every message between the two users in either
// direction, oldest first. The id tiebreak keeps ordering stable when two
// messages share a timestamp.
func (r *MessageRepo) ListConversation(ctx context.Context, a, b uuid.UUID) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (from_user = $1 AND to_user = $2)
		   OR (from_user = $2 AND to_user = $1)
		ORDER BY created_at ASC, id ASC
	`, a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkRead flips a single message to read. Only the recipient may flip it,
// enforced here rather than trusted to the caller. Returns how many rows
// actually changed so callers can tell a no-op apart from a real flip.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, recipientID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET read = TRUE
		WHERE id = $1
		  AND to_user = $2
		  AND read = FALSE
	`, messageID, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkConversationRead marks everything the counterpart sent me as read.
// Never touches my own sent messages, and never un-reads anything. Returns
// the number of rows flipped.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, recipientID, otherID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET read = TRUE
		WHERE to_user = $1
		  AND from_user = $2
		  AND read = FALSE
	`, recipientID, otherID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClearAttachment nulls the attachment reference and replaces the text in
// one statement, so feed subscribers observe a single row change.
func (r *MessageRepo) ClearAttachment(ctx context.Context, messageID uuid.UUID, text string) (*models.Message, error) {
	m := &models.Message{}
	err := r.pool.QueryRow(ctx, `
		UPDATE messages
		SET attachment_url = NULL, text = $2
		WHERE id = $1
		RETURNING `+messageColumns, messageID, text).Scan(
		&m.ID, &m.FromUser, &m.ToUser, &m.Text, &m.AttachmentURL,
		&m.FromName, &m.ToName, &m.Read, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type messageRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows messageRows) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.FromUser, &m.ToUser, &m.Text, &m.AttachmentURL,
			&m.FromName, &m.ToName, &m.Read, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
