package models

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses. A row that is present and fresh is "present" in either
// status; absence is represented by row absence or staleness, never a third
// status value.
const (
	StatusActive = "active"
	StatusBreak  = "break"
)

// Session is one student's broadcast of "I am currently studying X at Y".
// At most one row exists per user; starting again upserts onto it.
type Session struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Name       string    `json:"name"`
	StudentID  string    `json:"student_id"`
	CourseCode string    `json:"course_code"`
	WorkingOn  *string   `json:"working_on"`
	Location   *string   `json:"location"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type StartSessionRequest struct {
	CourseCode string `json:"course_code"`
	WorkingOn  string `json:"working_on"`
	Location   string `json:"location"`
}

// UpdateSessionRequest carries a partial edit. Nil means "leave untouched";
// a blank string means "clear the field".
type UpdateSessionRequest struct {
	WorkingOn *string `json:"working_on"`
	Location  *string `json:"location"`
	Status    *string `json:"status"`
}
