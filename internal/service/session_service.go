package service

import (
	"context"
	"time"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
	"github.com/fieldware/be-mnt-workorders/internal/logger"
	"github.com/fieldware/be-mnt-workorders/internal/repository"
)

const timeLayout = "15:04"

// SessionStore is the persistence port for the session ledger. Mutations run
// their precondition checks atomically with the write.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*repository.ActionSession, error)
	ListByAction(ctx context.Context, actionID string) ([]*repository.ActionSession, error)
	Add(ctx context.Context, actionID, date, start string, end *string, completed bool) (*repository.ActionSession, error)
	MarkLatestCompleted(ctx context.Context, sessionID string) (*repository.ActionSession, error)
	RevertCompletion(ctx context.Context, sessionID string) (*repository.ActionSession, error)
	Update(ctx context.Context, sessionID string, upd repository.SessionUpdate) (*repository.ActionSession, error)
	Delete(ctx context.Context, sessionID string) error
	IsLatestClosed(ctx context.Context, actionID string) (bool, error)
}

// ActionLookup verifies session parents exist.
type ActionLookup interface {
	GetAction(ctx context.Context, id string) (*repository.Action, error)
}

// SessionService enforces the session-ledger rules on top of the store:
// input validation and role minimums here, uniqueness/ordering invariants in
// the store transaction.
type SessionService struct {
	sessions SessionStore
	actions  ActionLookup
	log      *logger.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions SessionStore, actions ActionLookup, log *logger.Logger) *SessionService {
	return &SessionService{sessions: sessions, actions: actions, log: log}
}

// AddSessionRequest carries the fields of a new work session.
type AddSessionRequest struct {
	ActionDate  string  `json:"action_date"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time,omitempty"`
	IsCompleted bool    `json:"is_completed"`
}

// Add starts a new session ("start again") on an action. Fails Conflict on a
// duplicate date and PreconditionFailed when the previous session is still
// open; both checks happen inside the store transaction.
func (s *SessionService) Add(ctx context.Context, actor auth.Identity, actionID string, req *AddSessionRequest) (*repository.ActionSession, error) {
	if _, err := time.Parse(dateLayout, req.ActionDate); err != nil {
		return nil, errors.InvalidInput("action_date", "invalid date format, expected YYYY-MM-DD")
	}
	if _, err := time.Parse(timeLayout, req.StartTime); err != nil {
		return nil, errors.InvalidInput("start_time", "invalid time format, expected HH:MM")
	}
	if req.EndTime != nil && *req.EndTime != "" {
		if _, err := time.Parse(timeLayout, *req.EndTime); err != nil {
			return nil, errors.InvalidInput("end_time", "invalid time format, expected HH:MM")
		}
	}

	if _, err := s.actions.GetAction(ctx, actionID); err != nil {
		return nil, err
	}

	session, err := s.sessions.Add(ctx, actionID, req.ActionDate, req.StartTime, req.EndTime, req.IsCompleted)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", session.ID).
		Str("action_id", actionID).
		Str("action_date", req.ActionDate).
		Str("added_by", actor.ID).
		Msg("Session started")

	return session, nil
}

// MarkCompleted marks a session completed. Only the latest session of the
// action may be completed.
func (s *SessionService) MarkCompleted(ctx context.Context, actor auth.Identity, sessionID string) (*repository.ActionSession, error) {
	session, err := s.sessions.MarkLatestCompleted(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("completed_by", actor.ID).
		Msg("Session marked completed")

	return session, nil
}

// Revert reopens a completed session. Admin and up.
func (s *SessionService) Revert(ctx context.Context, actor auth.Identity, sessionID string) (*repository.ActionSession, error) {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}

	session, err := s.sessions.RevertCompletion(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("reverted_by", actor.ID).
		Msg("Session completion reverted")

	return session, nil
}

// EditSessionRequest carries the optional fields of a session edit. Nil
// fields are left unchanged; ClearEnd removes the end time.
type EditSessionRequest struct {
	ActionDate  *string `json:"action_date,omitempty"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	ClearEnd    bool    `json:"clear_end,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

// Edit updates a session's date and time fields. A changed date is re-checked
// for uniqueness among the action's sessions. Reverting is_completed to false
// within an edit requires admin and a currently completed session; setting it
// to true goes through MarkCompleted, which enforces the latest-only rule.
func (s *SessionService) Edit(ctx context.Context, actor auth.Identity, sessionID string, req *EditSessionRequest) (*repository.ActionSession, error) {
	if req.ActionDate != nil {
		if _, err := time.Parse(dateLayout, *req.ActionDate); err != nil {
			return nil, errors.InvalidInput("action_date", "invalid date format, expected YYYY-MM-DD")
		}
	}
	if req.StartTime != nil {
		if _, err := time.Parse(timeLayout, *req.StartTime); err != nil {
			return nil, errors.InvalidInput("start_time", "invalid time format, expected HH:MM")
		}
	}
	if req.EndTime != nil && *req.EndTime != "" {
		if _, err := time.Parse(timeLayout, *req.EndTime); err != nil {
			return nil, errors.InvalidInput("end_time", "invalid time format, expected HH:MM")
		}
	}

	if req.IsCompleted != nil {
		if *req.IsCompleted {
			return nil, errors.InvalidInput("is_completed", "use the complete operation to mark a session completed")
		}
		current, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !current.IsCompleted {
			return nil, errors.InvalidTransition("session is not completed")
		}
		if err := auth.Require(actor, auth.RoleAdmin); err != nil {
			return nil, err
		}
	}

	session, err := s.sessions.Update(ctx, sessionID, repository.SessionUpdate{
		ActionDate:  req.ActionDate,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		ClearEnd:    req.ClearEnd,
		IsCompleted: req.IsCompleted,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("edited_by", actor.ID).
		Msg("Session edited")

	return session, nil
}

// Delete removes a session. Admin and up; no completeness re-check.
func (s *SessionService) Delete(ctx context.Context, actor auth.Identity, sessionID string) error {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("deleted_by", actor.ID).
		Msg("Session deleted")

	return nil
}

// ListByAction returns an action's sessions, newest date first.
func (s *SessionService) ListByAction(ctx context.Context, actor auth.Identity, actionID string) ([]*repository.ActionSession, error) {
	if _, err := s.actions.GetAction(ctx, actionID); err != nil {
		return nil, err
	}
	return s.sessions.ListByAction(ctx, actionID)
}
