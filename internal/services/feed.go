package services

import (
	"context"

	"studybuddy-backend/internal/models"
)

// ChangeFeed receives row-change announcements after successful writes.
// Publishing is fire-and-forget: a dropped announcement is healed by the
// next poll cycle, so implementations log failures instead of returning
// them.
type ChangeFeed interface {
	PublishSession(ctx context.Context, event string, s *models.Session)
	PublishMessage(ctx context.Context, event string, m *models.Message)
}

// NopFeed discards all announcements. Used in tests and as a stand-in when
// the feed backend is unavailable; polling alone keeps views correct.
type NopFeed struct{}

func (NopFeed) PublishSession(ctx context.Context, event string, s *models.Session) {}
func (NopFeed) PublishMessage(ctx context.Context, event string, m *models.Message) {}
