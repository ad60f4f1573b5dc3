package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ledongthuc/pdf"

	"studybuddy-backend/internal/models"
	"studybuddy-backend/internal/storage"
)

// MessageStore is the relational contract the messaging service depends on.
// *repository.MessageRepo is the production implementation.
type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	ListInbox(ctx context.Context, userID uuid.UUID) ([]models.Message, error)
	ListConversation(ctx context.Context, a, b uuid.UUID) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID, recipientID uuid.UUID) (int64, error)
	MarkConversationRead(ctx context.Context, recipientID, otherID uuid.UUID) (int64, error)
	ClearAttachment(ctx context.Context, messageID uuid.UUID, text string) (*models.Message, error)
}

type MessageService struct {
	messages MessageStore
	users    Directory
	objects  storage.ObjectStore
	feed     ChangeFeed
}

func NewMessageService(messages MessageStore, users Directory, objects storage.ObjectStore, feed ChangeFeed) *MessageService {
	return &MessageService{messages: messages, users: users, objects: objects, feed: feed}
}

// Send records a text message. Sender and recipient display names are
// captured now and stored on the row; a later rename does not rewrite
// history.
func (s *MessageService) Send(ctx context.Context, from uuid.UUID, req models.SendMessageRequest) (*models.Message, error) {
	if from == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &ValidationError{Fields: map[string]string{
			"text": "Message cannot be empty",
		}}
	}
	if req.ToUser == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{
			"to_user": "Missing recipient",
		}}
	}

	message := &models.Message{
		FromUser: from,
		ToUser:   req.ToUser,
		Text:     text,
		FromName: s.lookupName(ctx, from),
		ToName:   s.lookupName(ctx, req.ToUser),
	}

	if err := s.messages.Insert(ctx, message); err != nil {
		return nil, err
	}

	s.feed.PublishMessage(ctx, models.EventInsert, message)
	return message, nil
}

// SendAttachment uploads a file and records a message referencing it. Only
// images and PDFs are accepted; PDF payloads must parse, so a mislabeled
// upload is rejected before it reaches storage. The object lives under a
// per-sender path keyed by timestamp, and for PDFs the original filename
// becomes the message text.
func (s *MessageService) SendAttachment(ctx context.Context, from, to uuid.UUID, filename string, data []byte, contentType string) (*models.Message, error) {
	if from == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}
	if to == uuid.Nil {
		return nil, &ValidationError{Fields: map[string]string{
			"to_user": "Missing recipient",
		}}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Fields: map[string]string{
			"file": "File is empty",
		}}
	}

	isImage := strings.HasPrefix(contentType, "image/")
	isPDF := contentType == "application/pdf"
	if !isImage && !isPDF {
		return nil, &ValidationError{Fields: map[string]string{
			"file": "Only image and PDF files are allowed",
		}}
	}

	text := ""
	if isPDF {
		if _, err := pdf.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
			return nil, &ValidationError{Fields: map[string]string{
				"file": "File is not a valid PDF",
			}}
		}
		text = filename
		if text == "" {
			text = "PDF"
		}
	}

	path := fmt.Sprintf("%s/%d%s", from, time.Now().UnixMilli(), attachmentExt(filename, contentType))
	if err := s.objects.Upload(ctx, path, data, contentType); err != nil {
		return nil, err
	}
	url := s.objects.PublicURL(path)

	message := &models.Message{
		FromUser:      from,
		ToUser:        to,
		Text:          text,
		AttachmentURL: &url,
		FromName:      s.lookupName(ctx, from),
		ToName:        s.lookupName(ctx, to),
	}

	if err := s.messages.Insert(ctx, message); err != nil {
		return nil, err
	}

	s.feed.PublishMessage(ctx, models.EventInsert, message)
	return message, nil
}

// Inbox groups everything addressed to me by counterpart: newest message
// first, with a count of theirs I have not read yet.
func (s *MessageService) Inbox(ctx context.Context, me uuid.UUID) ([]models.ConversationSummary, error) {
	if me == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}

	inbox, err := s.messages.ListInbox(ctx, me)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0)
	index := make(map[uuid.UUID]int)
	for _, m := range inbox {
		i, seen := index[m.FromUser]
		if !seen {
			name := ""
			if m.FromName != nil {
				name = *m.FromName
			}
			// Inbox is newest-first, so the first message per counterpart
			// is the latest one.
			summaries = append(summaries, models.ConversationSummary{
				With:        m.FromUser,
				WithName:    name,
				LastMessage: m,
			})
			i = len(summaries) - 1
			index[m.FromUser] = i
		}
		if !m.Read {
			summaries[i].Unread++
		}
	}

	return summaries, nil
}

// Conversation returns the full two-party thread, oldest first, regardless
// of direction.
func (s *MessageService) Conversation(ctx context.Context, me, other uuid.UUID) ([]models.Message, error) {
	if me == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}
	return s.messages.ListConversation(ctx, me, other)
}

// MarkRead flips one message to read. Read state is monotonic: there is no
// way back to unread. The feed only hears about it when a row actually
// changed; publishing no-ops would echo back through subscribers, whose
// refreshes mark read again, and the feed would feed itself.
func (s *MessageService) MarkRead(ctx context.Context, me, messageID uuid.UUID) error {
	if me == uuid.Nil {
		return &UnauthorizedError{Message: "Not authenticated"}
	}
	flipped, err := s.messages.MarkRead(ctx, messageID, me)
	if err != nil {
		return err
	}
	if flipped == 0 {
		return nil
	}

	if m, err := s.messages.GetByID(ctx, messageID); err == nil {
		s.feed.PublishMessage(ctx, models.EventUpdate, m)
	}
	return nil
}

// MarkConversationRead flips every message the counterpart sent me. My own
// sent messages are never touched. Quiet when nothing flipped, for the same
// feedback reason as MarkRead: conversation subscribers call this on every
// refresh, so an unconditional publish would re-trigger those refreshes
// indefinitely.
func (s *MessageService) MarkConversationRead(ctx context.Context, me, other uuid.UUID) error {
	if me == uuid.Nil {
		return &UnauthorizedError{Message: "Not authenticated"}
	}
	flipped, err := s.messages.MarkConversationRead(ctx, me, other)
	if err != nil {
		return err
	}
	if flipped == 0 {
		return nil
	}

	// Routing-only envelope so the subscriber's other views refresh their
	// unread counts; payloads are never patched from events.
	s.feed.PublishMessage(ctx, models.EventUpdate, &models.Message{FromUser: other, ToUser: me, Read: true})
	return nil
}

// DeleteAttachment removes the storage object, then annotates the row. The
// order matters: if the storage delete fails the row is left untouched, so
// a "(deleted)" label can never dangle next to a still-live file.
func (s *MessageService) DeleteAttachment(ctx context.Context, caller, messageID uuid.UUID) (*models.Message, error) {
	if caller == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Not authenticated"}
	}

	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Message not found"}
		}
		return nil, err
	}
	if message.AttachmentURL == nil {
		return nil, &NotFoundError{Message: "No file to delete"}
	}
	if message.FromUser != caller {
		return nil, &ForbiddenError{Message: "Only the sender can delete an attachment"}
	}

	path, ok := s.objects.PathFromURL(*message.AttachmentURL)
	if !ok {
		return nil, fmt.Errorf("unrecognized storage URL %q", *message.AttachmentURL)
	}

	if err := s.objects.Remove(ctx, path); err != nil {
		return nil, err
	}

	text := "File (deleted)"
	if trimmed := strings.TrimSpace(message.Text); trimmed != "" {
		text = trimmed + " (deleted)"
	}

	updated, err := s.messages.ClearAttachment(ctx, messageID, text)
	if err != nil {
		return nil, err
	}

	s.feed.PublishMessage(ctx, models.EventUpdate, updated)
	return updated, nil
}

func (s *MessageService) lookupName(ctx context.Context, userID uuid.UUID) *string {
	name, err := s.users.DisplayName(ctx, userID)
	if err != nil {
		log.Printf("display name lookup for %s failed: %v", userID, err)
		return nil
	}
	return name
}

func attachmentExt(filename, contentType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	if contentType == "application/pdf" {
		return ".pdf"
	}
	if rest, ok := strings.CutPrefix(contentType, "image/"); ok && rest != "" {
		return "." + rest
	}
	return ".bin"
}
