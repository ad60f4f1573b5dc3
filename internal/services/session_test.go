package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"studybuddy-backend/internal/models"
	"studybuddy-backend/internal/presence"
	"studybuddy-backend/internal/roster"
)

func newSessionFixture() (*SessionService, *memSessionStore, *memDirectory, *recordingFeed) {
	store := newMemSessionStore()
	users := newMemDirectory()
	feed := &recordingFeed{}
	return NewSessionService(store, users, feed), store, users, feed
}

func TestStartValidation(t *testing.T) {
	svc, _, users, _ := newSessionFixture()
	complete := users.addUser("Aisha Khan", "261234567")
	incomplete := users.addUser("No ID Yet", "")

	tests := []struct {
		name    string
		userID  uuid.UUID
		req     models.StartSessionRequest
		wantErr any
	}{
		{
			name:    "anonymous caller",
			userID:  uuid.Nil,
			req:     models.StartSessionRequest{CourseCode: "COMP251"},
			wantErr: &UnauthorizedError{},
		},
		{
			name:    "unknown user",
			userID:  uuid.New(),
			req:     models.StartSessionRequest{CourseCode: "COMP251"},
			wantErr: &UnauthorizedError{},
		},
		{
			name:    "incomplete profile",
			userID:  incomplete,
			req:     models.StartSessionRequest{CourseCode: "COMP251"},
			wantErr: &ValidationError{},
		},
		{
			name:    "blank course code",
			userID:  complete,
			req:     models.StartSessionRequest{CourseCode: "   "},
			wantErr: &ValidationError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Start(context.Background(), tt.userID, tt.req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			switch tt.wantErr.(type) {
			case *UnauthorizedError:
				var target *UnauthorizedError
				if !errors.As(err, &target) {
					t.Errorf("expected UnauthorizedError, got %T: %v", err, err)
				}
			case *ValidationError:
				var target *ValidationError
				if !errors.As(err, &target) {
					t.Errorf("expected ValidationError, got %T: %v", err, err)
				}
			}
		})
	}
}

func TestStartNormalizesFields(t *testing.T) {
	svc, _, users, feed := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	session, err := svc.Start(context.Background(), userID, models.StartSessionRequest{
		CourseCode: "  comp251 ",
		WorkingOn:  "   ",
		Location:   "",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if session.CourseCode != "COMP251" {
		t.Errorf("expected course COMP251, got %q", session.CourseCode)
	}
	if session.WorkingOn == nil || *session.WorkingOn != DefaultWorkingOn {
		t.Errorf("expected working_on %q, got %v", DefaultWorkingOn, session.WorkingOn)
	}
	if session.Location != nil {
		t.Errorf("expected nil location, got %q", *session.Location)
	}
	if session.Name != "Aisha Khan" || session.StudentID != "261234567" {
		t.Errorf("profile fields not captured: %q %q", session.Name, session.StudentID)
	}
	if session.Status != models.StatusActive {
		t.Errorf("expected status active, got %q", session.Status)
	}

	events := feed.events()
	if len(events) != 1 || events[0].Event != models.EventInsert || events[0].Table != models.TableSessions {
		t.Errorf("expected one session INSERT event, got %+v", events)
	}
}

func TestStartSupersedesExistingSession(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	// A stale leftover from an earlier course.
	store.seed(models.Session{
		UserID:     userID,
		Name:       "Aisha Khan",
		StudentID:  "261234567",
		CourseCode: "MATH240",
		Status:     models.StatusActive,
		LastActive: time.Now().Add(-presence.StaleWindow - time.Minute),
	})

	session, err := svc.Start(context.Background(), userID, models.StartSessionRequest{CourseCode: "COMP251"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("expected exactly one session row, got %d", store.count())
	}
	if session.CourseCode != "COMP251" {
		t.Errorf("expected the new course, got %q", session.CourseCode)
	}

	mine, err := svc.Mine(context.Background(), userID)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if mine == nil || mine.CourseCode != "COMP251" {
		t.Errorf("expected fresh COMP251 session, got %+v", mine)
	}
}

func TestStartConcurrent(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Start(context.Background(), userID, models.StartSessionRequest{CourseCode: "COMP251"}); err != nil {
				t.Errorf("Start failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if store.count() != 1 {
		t.Errorf("expected one session row after concurrent starts, got %d", store.count())
	}
}

func TestHeartbeatMissingSessionIsBenign(t *testing.T) {
	svc, _, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	if err := svc.Heartbeat(context.Background(), uuid.New(), userID); err != nil {
		t.Errorf("expected nil for missing session, got %v", err)
	}
}

func TestHeartbeatRefreshesLastActive(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	session, err := svc.Start(context.Background(), userID, models.StartSessionRequest{CourseCode: "COMP251"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Age the row past the window, then heartbeat it back to life.
	store.seed(models.Session{
		ID:         session.ID,
		UserID:     userID,
		CourseCode: "COMP251",
		Status:     models.StatusActive,
		LastActive: time.Now().Add(-presence.StaleWindow - time.Second),
	})

	if mine, _ := svc.Mine(context.Background(), userID); mine != nil {
		t.Fatal("expected stale session to be hidden before heartbeat")
	}

	if err := svc.Heartbeat(context.Background(), session.ID, userID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	mine, err := svc.Mine(context.Background(), userID)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if mine == nil {
		t.Error("expected session visible again after heartbeat")
	}
}

func TestHeartbeatIgnoresForeignSession(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	owner := users.addUser("Aisha Khan", "261234567")
	intruder := users.addUser("Marco Rossi", "260111222")

	session, err := svc.Start(context.Background(), owner, models.StartSessionRequest{CourseCode: "COMP251"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Age the row out of the window; a foreign heartbeat must not revive it.
	store.seed(models.Session{
		ID:         session.ID,
		UserID:     owner,
		CourseCode: "COMP251",
		Status:     models.StatusActive,
		LastActive: time.Now().Add(-presence.StaleWindow - time.Second),
	})

	if err := svc.Heartbeat(context.Background(), session.ID, intruder); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	if mine, _ := svc.Mine(context.Background(), owner); mine != nil {
		t.Error("a heartbeat from another user must not keep the session alive")
	}

	// The owner's own heartbeat still works.
	if err := svc.Heartbeat(context.Background(), session.ID, owner); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if mine, _ := svc.Mine(context.Background(), owner); mine == nil {
		t.Error("expected the owner's heartbeat to refresh the session")
	}
}

func TestUpdateValidatesStatus(t *testing.T) {
	svc, _, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	session, err := svc.Start(context.Background(), userID, models.StartSessionRequest{CourseCode: "COMP251"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bad := "away"
	_, err = svc.Update(context.Background(), session.ID, userID, models.UpdateSessionRequest{Status: &bad})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for bad status, got %v", err)
	}

	good := models.StatusBreak
	updated, err := svc.Update(context.Background(), session.ID, userID, models.UpdateSessionRequest{Status: &good})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != models.StatusBreak {
		t.Errorf("expected status break, got %q", updated.Status)
	}
}

func TestUpdateBlankFieldsClear(t *testing.T) {
	svc, _, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	session, err := svc.Start(context.Background(), userID, models.StartSessionRequest{
		CourseCode: "COMP251",
		WorkingOn:  "Assignment 3",
		Location:   "Library 4th floor",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	blank := "   "
	updated, err := svc.Update(context.Background(), session.ID, userID, models.UpdateSessionRequest{
		WorkingOn: &blank,
		Location:  &blank,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.WorkingOn != nil {
		t.Errorf("expected working_on cleared, got %q", *updated.WorkingOn)
	}
	if updated.Location != nil {
		t.Errorf("expected location cleared, got %q", *updated.Location)
	}

	// Omitted fields stay untouched.
	where := "BURN 1205"
	updated, err = svc.Update(context.Background(), session.ID, userID, models.UpdateSessionRequest{Location: &where})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.WorkingOn != nil {
		t.Errorf("expected working_on still nil, got %v", updated.WorkingOn)
	}
	if updated.Location == nil || *updated.Location != "BURN 1205" {
		t.Errorf("expected location BURN 1205, got %v", updated.Location)
	}
}

func TestUpdateUnknownSession(t *testing.T) {
	svc, _, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	_, err := svc.Update(context.Background(), uuid.New(), userID, models.UpdateSessionRequest{})
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateRejectsForeignSession(t *testing.T) {
	svc, _, users, _ := newSessionFixture()
	owner := users.addUser("Aisha Khan", "261234567")
	intruder := users.addUser("Marco Rossi", "260111222")

	session, err := svc.Start(context.Background(), owner, models.StartSessionRequest{CourseCode: "COMP251"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	hijack := "Something else"
	_, err = svc.Update(context.Background(), session.ID, intruder, models.UpdateSessionRequest{WorkingOn: &hijack})
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("expected NotFoundError for foreign session, got %v", err)
	}
}

func TestMineHidesStaleAndBreakIsVisible(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	store.seed(models.Session{
		UserID:     userID,
		CourseCode: "COMP251",
		Status:     models.StatusBreak,
		LastActive: time.Now().Add(-time.Minute),
	})

	mine, err := svc.Mine(context.Background(), userID)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if mine == nil || mine.Status != models.StatusBreak {
		t.Errorf("expected own break session visible, got %+v", mine)
	}

	store.seed(models.Session{
		UserID:     userID,
		CourseCode: "COMP251",
		Status:     models.StatusActive,
		LastActive: time.Now().Add(-presence.StaleWindow),
	})

	mine, err = svc.Mine(context.Background(), userID)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if mine != nil {
		t.Errorf("expected stale session hidden, got %+v", mine)
	}
}

func TestRosterExcludesSelfBreakAndStale(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	me := users.addUser("Aisha Khan", "261234567")

	store.seed(models.Session{
		UserID: me, Name: "Aisha Khan", CourseCode: "COMP251",
		Status: models.StatusActive, LastActive: time.Now(),
	})
	store.seed(models.Session{
		UserID: uuid.New(), Name: "Marco Rossi", CourseCode: "COMP251",
		Status: models.StatusActive, LastActive: time.Now().Add(-time.Minute),
	})
	store.seed(models.Session{
		UserID: uuid.New(), Name: "On Break", CourseCode: "COMP251",
		Status: models.StatusBreak, LastActive: time.Now(),
	})
	store.seed(models.Session{
		UserID: uuid.New(), Name: "Gone Stale", CourseCode: "MATH240",
		Status: models.StatusActive, LastActive: time.Now().Add(-presence.StaleWindow - time.Minute),
	})

	view, err := svc.Roster(context.Background(), me, roster.Filter{})
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}

	if len(view.Sessions) != 1 {
		t.Fatalf("expected one visible peer, got %d", len(view.Sessions))
	}
	if view.Sessions[0].Name != "Marco Rossi" {
		t.Errorf("expected Marco Rossi, got %q", view.Sessions[0].Name)
	}
}

func TestRosterEvictsStaleRows(t *testing.T) {
	svc, store, users, feed := newSessionFixture()
	me := users.addUser("Aisha Khan", "261234567")

	staleUser := uuid.New()
	store.seed(models.Session{
		UserID: staleUser, Name: "Gone Stale", CourseCode: "MATH240",
		Status: models.StatusActive, LastActive: time.Now().Add(-presence.StaleWindow - time.Minute),
	})

	if _, err := svc.Roster(context.Background(), me, roster.Filter{}); err != nil {
		t.Fatalf("Roster failed: %v", err)
	}

	if store.count() != 0 {
		t.Errorf("expected stale row evicted, %d rows remain", store.count())
	}

	var sawDelete bool
	for _, ev := range feed.events() {
		if ev.Table == models.TableSessions && ev.Event == models.EventDelete {
			if s, ok := ev.Row.(*models.Session); ok && s.UserID == staleUser {
				sawDelete = true
			}
		}
	}
	if !sawDelete {
		t.Error("expected a DELETE event for the evicted session")
	}
}

func TestRosterFilters(t *testing.T) {
	svc, store, users, _ := newSessionFixture()
	me := users.addUser("Aisha Khan", "261234567")

	store.seed(models.Session{
		UserID: uuid.New(), Name: "Comp Peer", CourseCode: "COMP251",
		Status: models.StatusActive, LastActive: time.Now(),
	})
	store.seed(models.Session{
		UserID: uuid.New(), Name: "Math Peer", CourseCode: "MATH240",
		Status: models.StatusActive, LastActive: time.Now(),
	})

	view, err := svc.Roster(context.Background(), me, roster.Filter{Course: "COMP251"})
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}
	if len(view.Sessions) != 1 || view.Sessions[0].CourseCode != "COMP251" {
		t.Errorf("course filter failed: %+v", view.Sessions)
	}
	// Aggregates cover the whole snapshot, not just the filtered slice.
	if view.TotalStudying != 2 {
		t.Errorf("expected total 2, got %d", view.TotalStudying)
	}
	if view.ByDepartment["MATH"] != 1 || view.ByDepartment["COMP"] != 1 {
		t.Errorf("unexpected department counts: %+v", view.ByDepartment)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	svc, store, users, feed := newSessionFixture()
	userID := users.addUser("Aisha Khan", "261234567")

	if _, err := svc.Start(context.Background(), userID, models.StartSessionRequest{CourseCode: "COMP251"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := svc.Leave(context.Background(), userID); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if store.count() != 0 {
		t.Errorf("expected no rows after leave, got %d", store.count())
	}

	before := len(feed.events())
	if err := svc.Leave(context.Background(), userID); err != nil {
		t.Fatalf("second Leave failed: %v", err)
	}
	if len(feed.events()) != before {
		t.Error("second leave should not publish events")
	}

	mine, err := svc.Mine(context.Background(), userID)
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	if mine != nil {
		t.Errorf("expected no session after leave, got %+v", mine)
	}
}
