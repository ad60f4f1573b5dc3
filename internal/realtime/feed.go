package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"studybuddy-backend/internal/models"
)

const sessionsChannel = "feed:sessions"

func messagesChannel(userID uuid.UUID) string {
	return "feed:messages:" + userID.String()
}

// Feed publishes change envelopes over Redis pub/sub. Session events go to
// one broad channel; message events go to a per-user channel for each
// participant. Publish failures are logged and dropped — the feed only
// accelerates the poll cycle, it is not the source of truth.
type Feed struct {
	redis *redis.Client
}

func NewFeed(redisClient *redis.Client) *Feed {
	return &Feed{redis: redisClient}
}

func (f *Feed) PublishSession(ctx context.Context, event string, s *models.Session) {
	payload, err := marshalEvent(models.TableSessions, event, s)
	if err != nil {
		log.Printf("feed: marshal session event failed: %v", err)
		return
	}
	if err := f.redis.Publish(ctx, sessionsChannel, payload).Err(); err != nil {
		log.Printf("feed: publish session event failed: %v", err)
	}
}

func (f *Feed) PublishMessage(ctx context.Context, event string, m *models.Message) {
	payload, err := marshalEvent(models.TableMessages, event, m)
	if err != nil {
		log.Printf("feed: marshal message event failed: %v", err)
		return
	}
	for _, ch := range []string{messagesChannel(m.FromUser), messagesChannel(m.ToUser)} {
		if err := f.redis.Publish(ctx, ch, payload).Err(); err != nil {
			log.Printf("feed: publish message event failed: %v", err)
		}
	}
}

func marshalEvent(table, event string, row any) ([]byte, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}

	env := models.ChangeEvent{Table: table, Event: event}
	if event == models.EventDelete {
		env.Old = raw
	} else {
		env.New = raw
	}
	return json.Marshal(env)
}

// sessionFromEvent decodes the session carried by an envelope, preferring
// New and falling back to Old for deletions. Used for routing only.
func sessionFromEvent(env models.ChangeEvent) (*models.Session, bool) {
	raw := env.New
	if len(raw) == 0 {
		raw = env.Old
	}
	if len(raw) == 0 {
		return nil, false
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// messageFromEvent decodes the message carried by an envelope.
func messageFromEvent(env models.ChangeEvent) (*models.Message, bool) {
	raw := env.New
	if len(raw) == 0 {
		raw = env.Old
	}
	if len(raw) == 0 {
		return nil, false
	}
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}
