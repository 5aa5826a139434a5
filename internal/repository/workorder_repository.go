package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fieldware/be-mnt-workorders/internal/database"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// WorkOrderRepository handles work-order persistence and the transactional
// status transitions. Every transition locks the work-order row, re-validates
// the guard and writes the new status in one transaction, so concurrent
// transitions cannot race each other or a session mutation.
type WorkOrderRepository struct {
	db *database.DB
}

// NewWorkOrderRepository creates a new WorkOrderRepository.
func NewWorkOrderRepository(db *database.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

const workOrderColumns = `
	id, work_order_no, work_order_date, description, location, status,
	requested_by, completion_requested_by, completion_requested_at,
	completion_approved_by, completion_approved_at,
	rejection_reason, work_completed_date, created_at, updated_at
`

// Create inserts a new work order in pending status.
func (r *WorkOrderRepository) Create(ctx context.Context, wo *WorkOrder) error {
	query := `
		INSERT INTO work_orders (work_order_no, work_order_date, description,
		                         location, status, requested_by)
		VALUES ($1, $2, $3, $4, $5::work_order_status, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		wo.WorkOrderNo,
		wo.WorkOrderDate,
		wo.Description,
		wo.Location,
		wo.Status,
		wo.RequestedBy,
	).Scan(&wo.ID, &wo.CreatedAt, &wo.UpdatedAt)

	if database.IsUniqueViolation(err, "") {
		return errors.Newf(errors.ErrCodeConflict, "work order number %q already exists", wo.WorkOrderNo)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create work order")
	}
	return nil
}

// GetByID retrieves a work order header.
func (r *WorkOrderRepository) GetByID(ctx context.Context, id string) (*WorkOrder, error) {
	wo, err := scanWorkOrder(r.db.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("work_order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get work order")
	}
	return wo, nil
}

// List retrieves work orders with optional status/requester filters.
func (r *WorkOrderRepository) List(ctx context.Context, status, requestedBy *string, limit, offset int) ([]*WorkOrder, int64, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE TRUE`
	countQuery := `SELECT COUNT(*) FROM work_orders WHERE TRUE`

	args := []any{}
	if status != nil {
		args = append(args, *status)
		cond := ` AND status = $1::work_order_status`
		query += cond
		countQuery += cond
	}
	if requestedBy != nil {
		args = append(args, *requestedBy)
		if len(args) == 1 {
			query += ` AND requested_by = $1`
			countQuery += ` AND requested_by = $1`
		} else {
			query += ` AND requested_by = $2`
			countQuery += ` AND requested_by = $2`
		}
	}

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count work orders")
	}

	switch len(args) {
	case 0:
		query += ` ORDER BY work_order_date DESC, work_order_no DESC LIMIT $1 OFFSET $2`
	case 1:
		query += ` ORDER BY work_order_date DESC, work_order_no DESC LIMIT $2 OFFSET $3`
	default:
		query += ` ORDER BY work_order_date DESC, work_order_no DESC LIMIT $3 OFFSET $4`
	}
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list work orders")
	}
	defer rows.Close()

	orders := make([]*WorkOrder, 0)
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan work order")
		}
		orders = append(orders, wo)
	}
	return orders, total, nil
}

// Delete removes a work order; findings, actions and sessions cascade.
func (r *WorkOrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete work order")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("work_order", id)
	}
	return nil
}

// ── Lifecycle transitions ─────────────────────────────────────────────────────

// Approve moves pending → ongoing and clears any stale rejection reason.
// The approver and timestamp are recorded in the audit log by the service.
func (r *WorkOrderRepository) Approve(ctx context.Context, id string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockForEvent(ctx, tx, id, EventApprove); err != nil {
			return err
		}
		return execTransition(ctx, tx, `
			UPDATE work_orders
			SET status = 'ongoing'::work_order_status,
			    rejection_reason = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, id)
	})
}

// Reject moves pending → rejected, recording the reason.
func (r *WorkOrderRepository) Reject(ctx context.Context, id, reason string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockForEvent(ctx, tx, id, EventReject); err != nil {
			return err
		}
		return execTransition(ctx, tx, `
			UPDATE work_orders
			SET status = 'rejected'::work_order_status,
			    rejection_reason = $2,
			    updated_at = NOW()
			WHERE id = $1
		`, id, reason)
	})
}

// Resubmit moves rejected → pending, clearing the rejection reason so the
// "reason set iff rejected" invariant holds.
func (r *WorkOrderRepository) Resubmit(ctx context.Context, id string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockForEvent(ctx, tx, id, EventResubmit); err != nil {
			return err
		}
		return execTransition(ctx, tx, `
			UPDATE work_orders
			SET status = 'pending'::work_order_status,
			    rejection_reason = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, id)
	})
}

// RequestCompletion moves ongoing → completion_requested. The completeness
// gate (every action's latest session closed) is re-evaluated inside the
// transaction after the row lock is held.
func (r *WorkOrderRepository) RequestCompletion(ctx context.Context, id, requestedBy, workCompletedDate string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockForEvent(ctx, tx, id, EventRequestCompletion); err != nil {
			return err
		}
		if err := checkSessionsClosed(ctx, tx, id); err != nil {
			return err
		}
		return execTransition(ctx, tx, `
			UPDATE work_orders
			SET status = 'completion_requested'::work_order_status,
			    completion_requested_by = $2,
			    completion_requested_at = NOW(),
			    work_completed_date = $3,
			    updated_at = NOW()
			WHERE id = $1
		`, id, requestedBy, workCompletedDate)
	})
}

// ApproveCompletion moves completion_requested → completed. The completeness
// gate is re-checked: sessions may have changed since the request.
func (r *WorkOrderRepository) ApproveCompletion(ctx context.Context, id, approvedBy string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockForEvent(ctx, tx, id, EventApproveCompletion); err != nil {
			return err
		}
		if err := checkSessionsClosed(ctx, tx, id); err != nil {
			return err
		}
		return execTransition(ctx, tx, `
			UPDATE work_orders
			SET status = 'completed'::work_order_status,
			    completion_approved_by = $2,
			    completion_approved_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1
		`, id, approvedBy)
	})
}

// RejectCompletion moves completion_requested → ongoing. The work-completed
// date is cleared (it is only set while a completion is pending or approved);
// the rejection reason travels in the audit log and notification, not on the
// row, which reserves rejection_reason for the rejected state.
func (r *WorkOrderRepository) RejectCompletion(ctx context.Context, id string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := lockForEvent(ctx, tx, id, EventRejectCompletion); err != nil {
			return err
		}
		return execTransition(ctx, tx, `
			UPDATE work_orders
			SET status = 'ongoing'::work_order_status,
			    completion_requested_by = NULL,
			    completion_requested_at = NULL,
			    work_completed_date = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, id)
	})
}

// lockForEvent locks the work-order row and verifies the event is legal from
// its current status.
func lockForEvent(ctx context.Context, tx pgx.Tx, id string, event WorkOrderEvent) error {
	var status WorkOrderStatus
	err := tx.QueryRow(ctx, `SELECT status FROM work_orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err == pgx.ErrNoRows {
		return errors.NotFound("work_order", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock work order")
	}

	if _, ok := NextStatus(status, event); !ok {
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"cannot %s a work order with status %q", event, status)
	}
	return nil
}

func execTransition(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update work order status")
	}
	return nil
}

// ── Completeness gate ─────────────────────────────────────────────────────────

const unclosedLatestQuery = `
	SELECT session_id, action_id, finding_id, action_date
	FROM (
		SELECT DISTINCT ON (s.action_id)
		       s.id AS session_id, s.action_id, a.finding_id,
		       s.action_date, s.end_time
		FROM action_sessions s
		JOIN actions a  ON a.id = s.action_id
		JOIN findings f ON f.id = a.finding_id
		WHERE f.work_order_id = $1
		ORDER BY s.action_id, s.action_date DESC
	) latest
	WHERE end_time IS NULL OR end_time = ''
	ORDER BY action_date
`

// UnclosedLatestSessions returns, per action under the work order, the latest
// session lacking an end time. An empty result means the completeness gate
// passes (a work order with no actions passes trivially).
func (r *WorkOrderRepository) UnclosedLatestSessions(ctx context.Context, workOrderID string) ([]UnclosedSession, error) {
	rows, err := r.db.Query(ctx, unclosedLatestQuery, workOrderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query unclosed sessions")
	}
	defer rows.Close()
	return collectUnclosed(rows)
}

func checkSessionsClosed(ctx context.Context, tx pgx.Tx, workOrderID string) error {
	rows, err := tx.Query(ctx, unclosedLatestQuery, workOrderID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to query unclosed sessions")
	}
	defer rows.Close()

	unclosed, err := collectUnclosed(rows)
	if err != nil {
		return err
	}
	if len(unclosed) > 0 {
		return errors.PreconditionFailed(
			"one or more actions have an open latest session", unclosed)
	}
	return nil
}

func collectUnclosed(rows pgx.Rows) ([]UnclosedSession, error) {
	unclosed := make([]UnclosedSession, 0)
	for rows.Next() {
		var u UnclosedSession
		if err := rows.Scan(&u.SessionID, &u.ActionID, &u.FindingID, &u.ActionDate); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan unclosed session")
		}
		unclosed = append(unclosed, u)
	}
	return unclosed, nil
}

// MaxSessionDate returns the latest action date recorded anywhere under the
// work order, or nil when it has no sessions.
func (r *WorkOrderRepository) MaxSessionDate(ctx context.Context, workOrderID string) (*string, error) {
	var maxDate *string
	err := r.db.QueryRow(ctx, `
		SELECT MAX(s.action_date)
		FROM action_sessions s
		JOIN actions a  ON a.id = s.action_id
		JOIN findings f ON f.id = a.finding_id
		WHERE f.work_order_id = $1
	`, workOrderID).Scan(&maxDate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query max session date")
	}
	return maxDate, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workOrderScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row workOrderScanner) (*WorkOrder, error) {
	wo := &WorkOrder{}
	err := row.Scan(
		&wo.ID,
		&wo.WorkOrderNo,
		&wo.WorkOrderDate,
		&wo.Description,
		&wo.Location,
		&wo.Status,
		&wo.RequestedBy,
		&wo.CompletionRequestedBy,
		&wo.CompletionRequestedAt,
		&wo.CompletionApprovedBy,
		&wo.CompletionApprovedAt,
		&wo.RejectionReason,
		&wo.WorkCompletedDate,
		&wo.CreatedAt,
		&wo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wo, nil
}
