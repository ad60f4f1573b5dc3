package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a directed note between two users. Sender and recipient names
// are denormalized at send time and never re-synced after a rename.
type Message struct {
	ID            uuid.UUID `json:"id"`
	FromUser      uuid.UUID `json:"from_user"`
	ToUser        uuid.UUID `json:"to_user"`
	Text          string    `json:"text"`
	AttachmentURL *string   `json:"attachment_url"`
	FromName      *string   `json:"from_name"`
	ToName        *string   `json:"to_name"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

type SendMessageRequest struct {
	ToUser uuid.UUID `json:"to_user"`
	Text   string    `json:"text"`
}

// ConversationSummary is one inbox row: the counterpart plus the newest
// message exchanged with them and how many of theirs are still unread.
type ConversationSummary struct {
	With        uuid.UUID `json:"with"`
	WithName    string    `json:"with_name"`
	LastMessage Message   `json:"last_message"`
	Unread      int       `json:"unread"`
}
