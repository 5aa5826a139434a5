package repository

import (
	"context"

	"github.com/fieldware/be-mnt-workorders/internal/database"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// AuditRepository appends immutable lifecycle audit records. Rows are only
// ever inserted and read, never updated.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit record.
func (r *AuditRepository) Append(ctx context.Context, e *AuditEntry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO work_order_audit_logs
		    (work_order_id, action, performed_by, status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, performed_at
	`, e.WorkOrderID, e.Action, e.PerformedBy, e.StatusBefore, e.StatusAfter, e.Metadata,
	).Scan(&e.ID, &e.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByWorkOrder returns a work order's audit trail, oldest first.
func (r *AuditRepository) ListByWorkOrder(ctx context.Context, workOrderID string) ([]*AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, work_order_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM work_order_audit_logs
		WHERE work_order_id = $1
		ORDER BY performed_at
	`, workOrderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.WorkOrderID, &e.Action, &e.PerformedBy, &e.PerformedAt,
			&e.StatusBefore, &e.StatusAfter, &e.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
