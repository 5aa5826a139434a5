package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"testing"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
	"github.com/fieldware/be-mnt-workorders/internal/logger"
	"github.com/fieldware/be-mnt-workorders/internal/repository"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", ServiceName: "test"})
}

var (
	testUser       = auth.Identity{ID: "u-user", Name: "Pat", Role: auth.RoleUser}
	testAdmin      = auth.Identity{ID: "u-admin", Name: "Sam", Role: auth.RoleAdmin}
	testSuperadmin = auth.Identity{ID: "u-super", Name: "Ale", Role: auth.RoleSuperadmin}
)

// fakeSessionStore implements the SessionStore contract in memory, including
// the transactional guarantees the SQL store provides.
type fakeSessionStore struct {
	seq      int
	sessions map[string]*repository.ActionSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*repository.ActionSession)}
}

func (f *fakeSessionStore) byAction(actionID string) []*repository.ActionSession {
	var out []*repository.ActionSession
	for _, s := range f.sessions {
		if s.ActionID == actionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionDate > out[j].ActionDate })
	return out
}

func (f *fakeSessionStore) GetByID(_ context.Context, id string) (*repository.ActionSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.NotFound("session", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) ListByAction(_ context.Context, actionID string) ([]*repository.ActionSession, error) {
	return f.byAction(actionID), nil
}

func (f *fakeSessionStore) Add(_ context.Context, actionID, date, start string, end *string, completed bool) (*repository.ActionSession, error) {
	siblings := f.byAction(actionID)
	for _, s := range siblings {
		if s.ActionDate == date {
			return nil, errors.Newf(errors.ErrCodeConflict, "a session for %s already exists on this action", date)
		}
	}
	if prev := repository.LatestSession(siblings); prev != nil && !prev.Closed() {
		return nil, errors.PreconditionFailed(
			"cannot start again: previous session has no end time",
			[]repository.UnclosedSession{{SessionID: prev.ID, ActionID: actionID, ActionDate: prev.ActionDate}})
	}

	f.seq++
	s := &repository.ActionSession{
		ID:          fmt.Sprintf("s-%d", f.seq),
		ActionID:    actionID,
		ActionDate:  date,
		StartTime:   start,
		EndTime:     end,
		IsCompleted: completed,
	}
	f.sessions[s.ID] = s
	for _, sib := range siblings {
		sib.IsCompleted = true
	}
	return s, nil
}

func (f *fakeSessionStore) MarkLatestCompleted(_ context.Context, sessionID string) (*repository.ActionSession, error) {
	target, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session", sessionID)
	}
	if latest := repository.LatestSession(f.byAction(target.ActionID)); latest == nil || latest.ID != target.ID {
		return nil, errors.InvalidTransition("only the latest date may be marked completed")
	}
	target.IsCompleted = true
	return target, nil
}

func (f *fakeSessionStore) RevertCompletion(_ context.Context, sessionID string) (*repository.ActionSession, error) {
	target, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session", sessionID)
	}
	if !target.IsCompleted {
		return nil, errors.InvalidTransition("session is not completed")
	}
	target.IsCompleted = false
	return target, nil
}

func (f *fakeSessionStore) Update(_ context.Context, sessionID string, upd repository.SessionUpdate) (*repository.ActionSession, error) {
	target, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session", sessionID)
	}
	if upd.ActionDate != nil {
		for _, s := range f.byAction(target.ActionID) {
			if s.ID != target.ID && s.ActionDate == *upd.ActionDate {
				return nil, errors.Newf(errors.ErrCodeConflict, "a session for %s already exists on this action", *upd.ActionDate)
			}
		}
		target.ActionDate = *upd.ActionDate
	}
	if upd.StartTime != nil {
		target.StartTime = *upd.StartTime
	}
	if upd.ClearEnd {
		target.EndTime = nil
	} else if upd.EndTime != nil {
		target.EndTime = upd.EndTime
	}
	if upd.IsCompleted != nil {
		target.IsCompleted = *upd.IsCompleted
	}
	return target, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, sessionID string) error {
	if _, ok := f.sessions[sessionID]; !ok {
		return errors.NotFound("session", sessionID)
	}
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSessionStore) IsLatestClosed(_ context.Context, actionID string) (bool, error) {
	latest := repository.LatestSession(f.byAction(actionID))
	return latest == nil || latest.Closed(), nil
}

type fakeActionLookup struct {
	actions map[string]*repository.Action
}

func (f *fakeActionLookup) GetAction(_ context.Context, id string) (*repository.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, errors.NotFound("action", id)
	}
	return a, nil
}

func newSessionService() (*SessionService, *fakeSessionStore) {
	store := newFakeSessionStore()
	actions := &fakeActionLookup{actions: map[string]*repository.Action{
		"a1": {ID: "a1", FindingID: "f1", Description: "replace bearing"},
	}}
	return NewSessionService(store, actions, testLogger()), store
}

func strptr(s string) *string { return &s }

func TestAddSessionDuplicateDateFailsConflict(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()

	_, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00", EndTime: strptr("17:00")})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}

	_, err = svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "10:00"})
	if err == nil {
		t.Fatal("duplicate date should fail")
	}
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAddSessionRequiresClosedPrevious(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()

	// Open session: no end time.
	first, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00"})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}

	_, err = svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-02", StartTime: "09:00"})
	if err == nil {
		t.Fatal("start again over an open session should fail")
	}
	if !errors.IsCode(err, errors.ErrCodePreconditionFailed) {
		t.Fatalf("expected precondition failed, got %v", err)
	}

	// The payload must identify the blocking session.
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected tagged error, got %v", err)
	}
	unclosed, ok := e.Detail.([]repository.UnclosedSession)
	if !ok || len(unclosed) != 1 {
		t.Fatalf("detail should carry the open session, got %#v", e.Detail)
	}
	if unclosed[0].SessionID != first.ID || unclosed[0].ActionDate != "2024-01-01" {
		t.Fatalf("detail identifies wrong session: %+v", unclosed[0])
	}

	// Closing the previous session unblocks the new one.
	if _, err := svc.Edit(ctx, testUser, first.ID, &EditSessionRequest{EndTime: strptr("17:00")}); err != nil {
		t.Fatalf("close first: %v", err)
	}
	if _, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-02", StartTime: "09:00"}); err != nil {
		t.Fatalf("add after closing: %v", err)
	}
}

func TestAddSessionClosesSuperseded(t *testing.T) {
	svc, store := newSessionService()
	ctx := context.Background()

	first, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00", EndTime: strptr("17:00")})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	second, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-02", StartTime: "09:00"})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if !store.sessions[first.ID].IsCompleted {
		t.Error("superseded session should be marked completed")
	}
	if store.sessions[second.ID].IsCompleted {
		t.Error("new session should stay open by default")
	}
}

func TestMarkCompletedLatestOnly(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()

	first, _ := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00", EndTime: strptr("17:00")})
	second, _ := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-02", StartTime: "09:00", EndTime: strptr("16:00")})

	_, err := svc.MarkCompleted(ctx, testUser, first.ID)
	if err == nil {
		t.Fatal("completing a non-latest session should fail")
	}
	if !errors.IsCode(err, errors.ErrCodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	s, err := svc.MarkCompleted(ctx, testUser, second.ID)
	if err != nil {
		t.Fatalf("completing the latest session: %v", err)
	}
	if !s.IsCompleted {
		t.Error("latest session should now be completed")
	}
}

func TestRevertRequiresAdminAndCompleted(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()

	s, _ := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00", EndTime: strptr("17:00")})
	if _, err := svc.MarkCompleted(ctx, testUser, s.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := svc.Revert(ctx, testUser, s.ID)
	if err == nil {
		t.Fatal("non-admin revert should fail")
	}
	if !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	reverted, err := svc.Revert(ctx, testAdmin, s.ID)
	if err != nil {
		t.Fatalf("admin revert: %v", err)
	}
	if reverted.IsCompleted {
		t.Error("session should be reopened")
	}

	// Not completed anymore: a second revert is an invalid transition.
	_, err = svc.Revert(ctx, testAdmin, s.ID)
	if err == nil || !errors.IsCode(err, errors.ErrCodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestEditRevertWithinEdit(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()
	no := false

	s, _ := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00", EndTime: strptr("17:00")})

	// Not completed yet: even an admin cannot "revert" it in an edit.
	_, err := svc.Edit(ctx, testAdmin, s.ID, &EditSessionRequest{IsCompleted: &no})
	if err == nil || !errors.IsCode(err, errors.ErrCodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if _, err := svc.MarkCompleted(ctx, testUser, s.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Completed: a plain user still may not revert it.
	_, err = svc.Edit(ctx, testUser, s.ID, &EditSessionRequest{IsCompleted: &no})
	if err == nil || !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Admin may.
	updated, err := svc.Edit(ctx, testAdmin, s.ID, &EditSessionRequest{IsCompleted: &no})
	if err != nil {
		t.Fatalf("admin edit: %v", err)
	}
	if updated.IsCompleted {
		t.Error("session should be reopened via edit")
	}
}

func TestEditDateUniqueness(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()

	svcAdd := func(date string) *repository.ActionSession {
		s, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: date, StartTime: "09:00", EndTime: strptr("17:00")})
		if err != nil {
			t.Fatalf("add %s: %v", date, err)
		}
		return s
	}
	svcAdd("2024-01-01")
	second := svcAdd("2024-01-02")

	_, err := svc.Edit(ctx, testUser, second.ID, &EditSessionRequest{ActionDate: strptr("2024-01-01")})
	if err == nil || !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Moving to a free date is fine.
	if _, err := svc.Edit(ctx, testUser, second.ID, &EditSessionRequest{ActionDate: strptr("2024-01-05")}); err != nil {
		t.Fatalf("edit to free date: %v", err)
	}
}

func TestDeleteSessionRequiresAdmin(t *testing.T) {
	svc, store := newSessionService()
	ctx := context.Background()

	s, _ := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00"})

	if err := svc.Delete(ctx, testUser, s.ID); err == nil || !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.Delete(ctx, testAdmin, s.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if len(store.sessions) != 0 {
		t.Error("session should be gone")
	}
}

func TestAddSessionValidatesInput(t *testing.T) {
	svc, _ := newSessionService()
	ctx := context.Background()

	_, err := svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "01/01/2024", StartTime: "09:00"})
	if err == nil || !errors.IsCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected invalid input for date, got %v", err)
	}

	_, err = svc.Add(ctx, testUser, "a1", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "9am"})
	if err == nil || !errors.IsCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected invalid input for time, got %v", err)
	}

	_, err = svc.Add(ctx, testUser, "missing", &AddSessionRequest{ActionDate: "2024-01-01", StartTime: "09:00"})
	if err == nil || !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected not found for unknown action, got %v", err)
	}
}
