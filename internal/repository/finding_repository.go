package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fieldware/be-mnt-workorders/internal/database"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
)

// FindingRepository handles findings and their actions. Deleting a finding
// cascades to its actions and their sessions via foreign keys.
type FindingRepository struct {
	db *database.DB
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *database.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// CreateFinding inserts a finding under a work order.
func (r *FindingRepository) CreateFinding(ctx context.Context, f *Finding) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO findings (work_order_id, description, image_path)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, f.WorkOrderID, f.Description, f.ImagePath).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create finding")
	}
	return nil
}

// GetFinding retrieves a finding header.
func (r *FindingRepository) GetFinding(ctx context.Context, id string) (*Finding, error) {
	f := &Finding{}
	err := r.db.QueryRow(ctx, `
		SELECT id, work_order_id, description, image_path, created_at, updated_at
		FROM findings WHERE id = $1
	`, id).Scan(&f.ID, &f.WorkOrderID, &f.Description, &f.ImagePath, &f.CreatedAt, &f.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("finding", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get finding")
	}
	return f, nil
}

// DeleteFinding removes a finding; actions and sessions cascade.
func (r *FindingRepository) DeleteFinding(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM findings WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete finding")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("finding", id)
	}
	return nil
}

// CreateAction inserts an action under a finding.
func (r *FindingRepository) CreateAction(ctx context.Context, a *Action) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO actions (finding_id, description)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, a.FindingID, a.Description).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create action")
	}
	return nil
}

// GetAction retrieves an action header.
func (r *FindingRepository) GetAction(ctx context.Context, id string) (*Action, error) {
	a := &Action{}
	err := r.db.QueryRow(ctx, `
		SELECT id, finding_id, description, created_at, updated_at
		FROM actions WHERE id = $1
	`, id).Scan(&a.ID, &a.FindingID, &a.Description, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("action", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get action")
	}
	return a, nil
}

// DeleteAction removes an action; sessions cascade.
func (r *FindingRepository) DeleteAction(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM actions WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete action")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("action", id)
	}
	return nil
}

// LoadTree populates the findings, actions and sessions of a work order.
func (r *FindingRepository) LoadTree(ctx context.Context, wo *WorkOrder) error {
	findingRows, err := r.db.Query(ctx, `
		SELECT id, work_order_id, description, image_path, created_at, updated_at
		FROM findings
		WHERE work_order_id = $1
		ORDER BY created_at
	`, wo.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load findings")
	}
	defer findingRows.Close()

	findings := make([]*Finding, 0)
	byID := make(map[string]*Finding)
	for findingRows.Next() {
		f := &Finding{Actions: make([]*Action, 0)}
		if err := findingRows.Scan(&f.ID, &f.WorkOrderID, &f.Description, &f.ImagePath, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan finding")
		}
		findings = append(findings, f)
		byID[f.ID] = f
	}
	findingRows.Close()

	actionRows, err := r.db.Query(ctx, `
		SELECT a.id, a.finding_id, a.description, a.created_at, a.updated_at
		FROM actions a
		JOIN findings f ON f.id = a.finding_id
		WHERE f.work_order_id = $1
		ORDER BY a.created_at
	`, wo.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load actions")
	}
	defer actionRows.Close()

	actionByID := make(map[string]*Action)
	for actionRows.Next() {
		a := &Action{Sessions: make([]*ActionSession, 0)}
		if err := actionRows.Scan(&a.ID, &a.FindingID, &a.Description, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan action")
		}
		if f, ok := byID[a.FindingID]; ok {
			f.Actions = append(f.Actions, a)
		}
		actionByID[a.ID] = a
	}
	actionRows.Close()

	sessionRows, err := r.db.Query(ctx, `
		SELECT s.id, s.action_id, s.action_date, s.start_time, s.end_time,
		       s.is_completed, s.created_at, s.updated_at
		FROM action_sessions s
		JOIN actions a  ON a.id = s.action_id
		JOIN findings f ON f.id = a.finding_id
		WHERE f.work_order_id = $1
		ORDER BY s.action_date DESC
	`, wo.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load sessions")
	}
	defer sessionRows.Close()

	for sessionRows.Next() {
		s := &ActionSession{}
		if err := sessionRows.Scan(&s.ID, &s.ActionID, &s.ActionDate, &s.StartTime, &s.EndTime,
			&s.IsCompleted, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan session")
		}
		if a, ok := actionByID[s.ActionID]; ok {
			a.Sessions = append(a.Sessions, s)
		}
	}

	wo.Findings = findings
	return nil
}
