package roster

import (
	"strings"

	"studybuddy-backend/internal/models"
)

// Filter narrows a roster snapshot. Course wins over Department when both
// are set. Zero value means "everyone".
type Filter struct {
	// Department matches the leading letters of the course code ("MATH"
	// matches MATH240 and MATH133).
	Department string
	// Course is an exact course code match.
	Course string
}

// View is a filtered roster plus aggregates, always computed from a single
// snapshot so counts and rows can never disagree.
type View struct {
	Sessions      []models.Session `json:"sessions"`
	ByCourse      map[string]int   `json:"by_course"`
	ByDepartment  map[string]int   `json:"by_department"`
	TotalStudying int              `json:"total_studying"`
}

// DepartmentOf extracts the department prefix from a course code: the
// leading run of letters ("COMP" from "COMP251").
func DepartmentOf(courseCode string) string {
	code := strings.ToUpper(strings.TrimSpace(courseCode))
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return code[:i]
		}
	}
	return code
}

// Build applies the filter and computes aggregates over one snapshot. The
// input slice is not modified; aggregates always cover the unfiltered
// snapshot so the course chips stay stable while a filter is active.
func Build(snapshot []models.Session, f Filter) View {
	v := View{
		Sessions:      make([]models.Session, 0, len(snapshot)),
		ByCourse:      make(map[string]int),
		ByDepartment:  make(map[string]int),
		TotalStudying: len(snapshot),
	}

	course := strings.ToUpper(strings.TrimSpace(f.Course))
	dept := strings.ToUpper(strings.TrimSpace(f.Department))

	for _, s := range snapshot {
		v.ByCourse[s.CourseCode]++
		v.ByDepartment[DepartmentOf(s.CourseCode)]++

		switch {
		case course != "":
			if s.CourseCode != course {
				continue
			}
		case dept != "":
			if DepartmentOf(s.CourseCode) != dept {
				continue
			}
		}
		v.Sessions = append(v.Sessions, s)
	}

	return v
}
