package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fieldware/be-mnt-workorders/internal/database"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// SessionRepository is the ledger of work sessions per action. Every mutation
// runs its precondition check and write inside one transaction with the
// action's session rows locked, so duplicate-date and latest-session races
// cannot slip through.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, action_id, action_date, start_time, end_time, is_completed,
	created_at, updated_at
`

// GetByID retrieves a single session.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*ActionSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM action_sessions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("session", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get session")
	}
	return s, nil
}

// ListByAction returns all sessions of an action, newest date first.
func (r *SessionRepository) ListByAction(ctx context.Context, actionID string) ([]*ActionSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM action_sessions
		WHERE action_id = $1
		ORDER BY action_date DESC
	`, actionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list sessions")
	}
	defer rows.Close()
	return collectSessions(rows)
}

// Add starts a new session for the action. Preconditions, enforced under a
// row lock on the action's sessions:
//   - no session may already exist for the date (Conflict);
//   - the current latest session must be closed (PreconditionFailed carrying
//     the open session).
//
// On insert, every other session of the action is marked completed: starting
// again implicitly finishes the superseded sessions. The new session stays
// open unless completed is true.
func (r *SessionRepository) Add(ctx context.Context, actionID, date, start string, end *string, completed bool) (*ActionSession, error) {
	var created *ActionSession

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		siblings, err := lockSessions(ctx, tx, actionID)
		if err != nil {
			return err
		}

		for _, s := range siblings {
			if s.ActionDate == date {
				return errors.Newf(errors.ErrCodeConflict,
					"a session for %s already exists on this action", date)
			}
		}

		if prev := LatestSession(siblings); prev != nil && !prev.Closed() {
			return errors.PreconditionFailed(
				"cannot start again: previous session has no end time",
				[]UnclosedSession{{SessionID: prev.ID, ActionID: actionID, ActionDate: prev.ActionDate}})
		}

		s := &ActionSession{
			ActionID:    actionID,
			ActionDate:  date,
			StartTime:   start,
			EndTime:     end,
			IsCompleted: completed,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO action_sessions (action_id, action_date, start_time, end_time, is_completed)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`, actionID, date, start, end, completed).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		if database.IsUniqueViolation(err, "") {
			return errors.Newf(errors.ErrCodeConflict,
				"a session for %s already exists on this action", date)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert session")
		}

		// Starting a new session closes out all earlier ones.
		_, err = tx.Exec(ctx, `
			UPDATE action_sessions
			SET is_completed = TRUE, updated_at = NOW()
			WHERE action_id = $1 AND id <> $2 AND NOT is_completed
		`, actionID, s.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to complete superseded sessions")
		}

		created = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// MarkLatestCompleted sets is_completed on the session, which must be the
// latest session of its action.
func (r *SessionRepository) MarkLatestCompleted(ctx context.Context, sessionID string) (*ActionSession, error) {
	var updated *ActionSession

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		target, siblings, err := lockSessionWithSiblings(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		if latest := LatestSession(siblings); latest == nil || latest.ID != target.ID {
			return errors.InvalidTransition("only the latest date may be marked completed")
		}

		updated, err = applySessionUpdate(ctx, tx, `
			UPDATE action_sessions
			SET is_completed = TRUE, updated_at = NOW()
			WHERE id = $1
			RETURNING `+sessionColumns+`
		`, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RevertCompletion reopens a completed session. Authorization (admin and up)
// is enforced by the service; here only the completed-state precondition is.
func (r *SessionRepository) RevertCompletion(ctx context.Context, sessionID string) (*ActionSession, error) {
	var updated *ActionSession

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		target, _, err := lockSessionWithSiblings(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !target.IsCompleted {
			return errors.InvalidTransition("session is not completed")
		}

		updated, err = applySessionUpdate(ctx, tx, `
			UPDATE action_sessions
			SET is_completed = FALSE, updated_at = NOW()
			WHERE id = $1
			RETURNING `+sessionColumns+`
		`, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SessionUpdate carries the optional fields of an edit. Nil means unchanged.
type SessionUpdate struct {
	ActionDate  *string
	StartTime   *string
	EndTime     *string
	ClearEnd    bool
	IsCompleted *bool
}

// Update edits a session. A changed date is re-checked for uniqueness against
// the sibling sessions. Completion-state rules for the edit (who may revert)
// are enforced by the service before this is called.
func (r *SessionRepository) Update(ctx context.Context, sessionID string, upd SessionUpdate) (*ActionSession, error) {
	var updated *ActionSession

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		target, siblings, err := lockSessionWithSiblings(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		date := target.ActionDate
		if upd.ActionDate != nil {
			date = *upd.ActionDate
			for _, s := range siblings {
				if s.ID != target.ID && s.ActionDate == date {
					return errors.Newf(errors.ErrCodeConflict,
						"a session for %s already exists on this action", date)
				}
			}
		}

		start := target.StartTime
		if upd.StartTime != nil {
			start = *upd.StartTime
		}

		end := target.EndTime
		if upd.ClearEnd {
			end = nil
		} else if upd.EndTime != nil {
			end = upd.EndTime
		}

		completed := target.IsCompleted
		if upd.IsCompleted != nil {
			completed = *upd.IsCompleted
		}

		updated, err = applySessionUpdate(ctx, tx, `
			UPDATE action_sessions
			SET action_date = $2, start_time = $3, end_time = $4,
			    is_completed = $5, updated_at = NOW()
			WHERE id = $1
			RETURNING `+sessionColumns+`
		`, sessionID, date, start, end, completed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a session unconditionally.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM action_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete session")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("session", sessionID)
	}
	return nil
}

// IsLatestClosed reports whether the action's latest session has an end time.
// An action with no sessions counts as closed.
func (r *SessionRepository) IsLatestClosed(ctx context.Context, actionID string) (bool, error) {
	sessions, err := r.ListByAction(ctx, actionID)
	if err != nil {
		return false, err
	}
	latest := LatestSession(sessions)
	return latest == nil || latest.Closed(), nil
}

// ── locking helpers ───────────────────────────────────────────────────────────

func lockSessions(ctx context.Context, tx pgx.Tx, actionID string) ([]*ActionSession, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM action_sessions
		WHERE action_id = $1
		ORDER BY action_date DESC
		FOR UPDATE
	`, actionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock sessions")
	}
	defer rows.Close()
	return collectSessions(rows)
}

func lockSessionWithSiblings(ctx context.Context, tx pgx.Tx, sessionID string) (*ActionSession, []*ActionSession, error) {
	var actionID string
	err := tx.QueryRow(ctx, `SELECT action_id FROM action_sessions WHERE id = $1`, sessionID).Scan(&actionID)
	if err == pgx.ErrNoRows {
		return nil, nil, errors.NotFound("session", sessionID)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve session")
	}

	siblings, err := lockSessions(ctx, tx, actionID)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range siblings {
		if s.ID == sessionID {
			return s, siblings, nil
		}
	}
	// Deleted between resolve and lock.
	return nil, nil, errors.NotFound("session", sessionID)
}

func applySessionUpdate(ctx context.Context, tx pgx.Tx, query string, args ...any) (*ActionSession, error) {
	s, err := scanSession(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update session")
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]*ActionSession, error) {
	sessions := make([]*ActionSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan session")
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(row sessionScanner) (*ActionSession, error) {
	s := &ActionSession{}
	err := row.Scan(
		&s.ID,
		&s.ActionID,
		&s.ActionDate,
		&s.StartTime,
		&s.EndTime,
		&s.IsCompleted,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
