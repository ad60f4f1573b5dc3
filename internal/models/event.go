package models

import "encoding/json"

// Change feed event types.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Tables that emit change events.
const (
	TableSessions = "sessions"
	TableMessages = "messages"
)

// ChangeEvent is the envelope published on the feed whenever a session or
// message row changes. Subscribers never patch state from Old/New directly;
// they re-fetch the affected view and use the payload only for routing
// (whose session, whose conversation).
type ChangeEvent struct {
	Table string          `json:"table"`
	Event string          `json:"event"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}
