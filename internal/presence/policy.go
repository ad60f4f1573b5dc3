package presence

import "time"

// StaleWindow is how long a session survives without a heartbeat before it
// is treated as absent. The same window decides roster visibility and
// whether "my own session" still counts as active.
const StaleWindow = 5 * time.Minute

// IsActive reports whether a session last seen at lastActive is still live
// at now. The boundary is strict: exactly StaleWindow old is stale.
func IsActive(lastActive, now time.Time) bool {
	return now.Sub(lastActive) < StaleWindow
}

// Threshold returns the oldest last_active timestamp that still counts as
// live at now. Used as the cutoff in roster and my-session queries.
func Threshold(now time.Time) time.Time {
	return now.Add(-StaleWindow)
}
