package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
	"github.com/fieldware/be-mnt-workorders/internal/logger"
	"github.com/fieldware/be-mnt-workorders/internal/repository"
)

const dateLayout = "2006-01-02"

// WorkOrderStore is the persistence port for work orders. The transition
// methods run their guard check and status write atomically against the
// backing store.
type WorkOrderStore interface {
	Create(ctx context.Context, wo *repository.WorkOrder) error
	GetByID(ctx context.Context, id string) (*repository.WorkOrder, error)
	List(ctx context.Context, status, requestedBy *string, limit, offset int) ([]*repository.WorkOrder, int64, error)
	Delete(ctx context.Context, id string) error

	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id, reason string) error
	Resubmit(ctx context.Context, id string) error
	RequestCompletion(ctx context.Context, id, requestedBy, workCompletedDate string) error
	ApproveCompletion(ctx context.Context, id, approvedBy string) error
	RejectCompletion(ctx context.Context, id string) error

	UnclosedLatestSessions(ctx context.Context, workOrderID string) ([]repository.UnclosedSession, error)
	MaxSessionDate(ctx context.Context, workOrderID string) (*string, error)
}

// FindingStore is the persistence port for findings and actions.
type FindingStore interface {
	CreateFinding(ctx context.Context, f *repository.Finding) error
	GetFinding(ctx context.Context, id string) (*repository.Finding, error)
	DeleteFinding(ctx context.Context, id string) error
	CreateAction(ctx context.Context, a *repository.Action) error
	GetAction(ctx context.Context, id string) (*repository.Action, error)
	DeleteAction(ctx context.Context, id string) error
	LoadTree(ctx context.Context, wo *repository.WorkOrder) error
}

// AuditStore appends lifecycle audit records.
type AuditStore interface {
	Append(ctx context.Context, e *repository.AuditEntry) error
	ListByWorkOrder(ctx context.Context, workOrderID string) ([]*repository.AuditEntry, error)
}

// Notifier delivers lifecycle notifications. Implementations must be
// fire-and-forget: a failed delivery never fails the transition.
type Notifier interface {
	PublishWorkOrderEvent(ctx context.Context, eventType, workOrderID, actorID string, recipients []string, title, message string, payload map[string]any)
}

// WorkOrderService orchestrates the work-order lifecycle: role check, guard
// validation, transactional transition, audit record, notification.
type WorkOrderService struct {
	orders   WorkOrderStore
	findings FindingStore
	audit    AuditStore
	notify   Notifier
	log      *logger.Logger
}

// NewWorkOrderService creates a new WorkOrderService.
func NewWorkOrderService(orders WorkOrderStore, findings FindingStore, audit AuditStore, notify Notifier, log *logger.Logger) *WorkOrderService {
	return &WorkOrderService{
		orders:   orders,
		findings: findings,
		audit:    audit,
		notify:   notify,
		log:      log,
	}
}

// CreateWorkOrderRequest carries the fields of a new work order.
type CreateWorkOrderRequest struct {
	WorkOrderNo   string  `json:"work_order_no"`
	WorkOrderDate string  `json:"work_order_date"`
	Description   string  `json:"description"`
	Location      *string `json:"location,omitempty"`
}

// Create registers a new work order in pending status. Any authenticated
// user may create one.
func (s *WorkOrderService) Create(ctx context.Context, actor auth.Identity, req *CreateWorkOrderRequest) (*repository.WorkOrder, error) {
	if req.WorkOrderNo == "" {
		return nil, errors.InvalidInput("work_order_no", "must not be empty")
	}
	if _, err := time.Parse(dateLayout, req.WorkOrderDate); err != nil {
		return nil, errors.InvalidInput("work_order_date", "invalid date format, expected YYYY-MM-DD")
	}

	wo := &repository.WorkOrder{
		WorkOrderNo:   req.WorkOrderNo,
		WorkOrderDate: req.WorkOrderDate,
		Description:   req.Description,
		Location:      req.Location,
		Status:        repository.StatusPending,
		RequestedBy:   actor.ID,
	}
	if err := s.orders.Create(ctx, wo); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, wo.ID, "created", actor.ID, nil, wo.Status, nil)
	s.notify.PublishWorkOrderEvent(ctx, "work_order_submitted", wo.ID, actor.ID,
		[]string{actor.ID},
		"Work order submitted",
		fmt.Sprintf("Work order %s was submitted for approval.", wo.WorkOrderNo),
		nil)
	s.log.Info().
		Str("work_order_id", wo.ID).
		Str("work_order_no", wo.WorkOrderNo).
		Str("requested_by", actor.ID).
		Msg("Work order created")

	return wo, nil
}

// Get retrieves a work order with its findings, actions and sessions.
func (s *WorkOrderService) Get(ctx context.Context, actor auth.Identity, id string) (*repository.WorkOrder, error) {
	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.findings.LoadTree(ctx, wo); err != nil {
		return nil, err
	}
	return wo, nil
}

// List retrieves work orders. Non-admin callers only see their own.
func (s *WorkOrderService) List(ctx context.Context, actor auth.Identity, status *string, page, pageSize int) ([]*repository.WorkOrder, int64, error) {
	var requestedBy *string
	if !actor.Role.AtLeast(auth.RoleAdmin) {
		requestedBy = &actor.ID
	}
	offset := (page - 1) * pageSize
	return s.orders.List(ctx, status, requestedBy, pageSize, offset)
}

// Approve moves a pending order to ongoing. Admin and up.
func (s *WorkOrderService) Approve(ctx context.Context, actor auth.Identity, id string) (*repository.WorkOrder, error) {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}

	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.orders.Approve(ctx, id); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, id, "approved", actor.ID, &wo.Status, repository.StatusOngoing, nil)
	s.notify.PublishWorkOrderEvent(ctx, "work_order_approved", id, actor.ID,
		[]string{wo.RequestedBy},
		"Work order approved",
		fmt.Sprintf("Work order %s has been approved and is now ongoing.", wo.WorkOrderNo),
		nil)

	s.log.Info().
		Str("work_order_id", id).
		Str("approved_by", actor.ID).
		Msg("Work order approved")

	return s.orders.GetByID(ctx, id)
}

// Reject moves a pending order to rejected with a reason. Admin and up.
func (s *WorkOrderService) Reject(ctx context.Context, actor auth.Identity, id, reason string) (*repository.WorkOrder, error) {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason must not be empty")
	}

	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.orders.Reject(ctx, id, reason); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, id, "rejected", actor.ID, &wo.Status, repository.StatusRejected,
		map[string]any{"reason": reason})
	s.notify.PublishWorkOrderEvent(ctx, "work_order_rejected", id, actor.ID,
		[]string{wo.RequestedBy},
		"Work order rejected",
		fmt.Sprintf("Work order %s was rejected: %s", wo.WorkOrderNo, reason),
		map[string]any{"reason": reason})

	s.log.Info().
		Str("work_order_id", id).
		Str("rejected_by", actor.ID).
		Msg("Work order rejected")

	return s.orders.GetByID(ctx, id)
}

// Resubmit moves a rejected order back to pending. Only the original
// requester may resubmit.
func (s *WorkOrderService) Resubmit(ctx context.Context, actor auth.Identity, id string) (*repository.WorkOrder, error) {
	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo.RequestedBy != actor.ID {
		return nil, errors.Forbidden("only the original requester may resubmit a work order")
	}

	if err := s.orders.Resubmit(ctx, id); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, id, "resubmitted", actor.ID, &wo.Status, repository.StatusPending, nil)
	s.log.Info().
		Str("work_order_id", id).
		Str("resubmitted_by", actor.ID).
		Msg("Work order resubmitted")

	return s.orders.GetByID(ctx, id)
}

// RequestCompletion moves an ongoing order to completion_requested. Guards:
// the completion date may precede neither the work-order date nor the latest
// session date, and every action's latest session must be closed.
func (s *WorkOrderService) RequestCompletion(ctx context.Context, actor auth.Identity, id, workCompletedDate string) (*repository.WorkOrder, error) {
	if _, err := time.Parse(dateLayout, workCompletedDate); err != nil {
		return nil, errors.InvalidInput("work_completed_date", "invalid date format, expected YYYY-MM-DD")
	}

	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workCompletedDate < wo.WorkOrderDate {
		return nil, errors.PreconditionFailed(
			"completion date precedes the work order date",
			map[string]string{"work_order_date": wo.WorkOrderDate, "work_completed_date": workCompletedDate})
	}
	maxDate, err := s.orders.MaxSessionDate(ctx, id)
	if err != nil {
		return nil, err
	}
	if maxDate != nil && workCompletedDate < *maxDate {
		return nil, errors.PreconditionFailed(
			"completion date precedes the latest recorded session date",
			map[string]string{"latest_session_date": *maxDate, "work_completed_date": workCompletedDate})
	}

	// The completeness gate is re-evaluated inside the store transaction.
	if err := s.orders.RequestCompletion(ctx, id, actor.ID, workCompletedDate); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, id, "completion_requested", actor.ID, &wo.Status, repository.StatusCompletionRequested,
		map[string]any{"work_completed_date": workCompletedDate})
	s.notify.PublishWorkOrderEvent(ctx, "completion_requested", id, actor.ID,
		[]string{wo.RequestedBy},
		"Completion requested",
		fmt.Sprintf("Completion of work order %s was requested for %s.", wo.WorkOrderNo, workCompletedDate),
		map[string]any{"work_completed_date": workCompletedDate})

	s.log.Info().
		Str("work_order_id", id).
		Str("requested_by", actor.ID).
		Str("work_completed_date", workCompletedDate).
		Msg("Work order completion requested")

	return s.orders.GetByID(ctx, id)
}

// ApproveCompletion moves completion_requested to completed. Superadmin only.
// The completeness gate is re-checked inside the store transaction: sessions
// may have changed since the request, and a reopened session blocks approval.
func (s *WorkOrderService) ApproveCompletion(ctx context.Context, actor auth.Identity, id string) (*repository.WorkOrder, error) {
	if err := auth.Require(actor, auth.RoleSuperadmin); err != nil {
		return nil, err
	}

	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.orders.ApproveCompletion(ctx, id, actor.ID); err != nil {
		return nil, err
	}

	requester := wo.RequestedBy
	if wo.CompletionRequestedBy != nil {
		requester = *wo.CompletionRequestedBy
	}

	s.appendAudit(ctx, id, "completion_approved", actor.ID, &wo.Status, repository.StatusCompleted, nil)
	s.notify.PublishWorkOrderEvent(ctx, "completion_approved", id, actor.ID,
		[]string{requester},
		"Work order completed",
		fmt.Sprintf("Completion of work order %s has been approved.", wo.WorkOrderNo),
		nil)

	s.log.Info().
		Str("work_order_id", id).
		Str("approved_by", actor.ID).
		Msg("Work order completion approved")

	return s.orders.GetByID(ctx, id)
}

// RejectCompletion moves completion_requested back to ongoing with a reason.
// Admin and up.
func (s *WorkOrderService) RejectCompletion(ctx context.Context, actor auth.Identity, id, reason string) (*repository.WorkOrder, error) {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason must not be empty")
	}

	wo, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.orders.RejectCompletion(ctx, id); err != nil {
		return nil, err
	}

	requester := wo.RequestedBy
	if wo.CompletionRequestedBy != nil {
		requester = *wo.CompletionRequestedBy
	}

	s.appendAudit(ctx, id, "completion_rejected", actor.ID, &wo.Status, repository.StatusOngoing,
		map[string]any{"reason": reason})
	s.notify.PublishWorkOrderEvent(ctx, "completion_rejected", id, actor.ID,
		[]string{requester},
		"Completion rejected",
		fmt.Sprintf("Completion of work order %s was rejected: %s", wo.WorkOrderNo, reason),
		map[string]any{"reason": reason})

	s.log.Info().
		Str("work_order_id", id).
		Str("rejected_by", actor.ID).
		Msg("Work order completion rejected")

	return s.orders.GetByID(ctx, id)
}

// Delete removes a work order and its whole tree. Admin and up.
func (s *WorkOrderService) Delete(ctx context.Context, actor auth.Identity, id string) error {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().
		Str("work_order_id", id).
		Str("deleted_by", actor.ID).
		Msg("Work order deleted")
	return nil
}

// AuditTrail returns the lifecycle audit log of a work order.
func (s *WorkOrderService) AuditTrail(ctx context.Context, actor auth.Identity, id string) ([]*repository.AuditEntry, error) {
	if _, err := s.orders.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListByWorkOrder(ctx, id)
}

// ── Findings and actions ──────────────────────────────────────────────────────

// AddFinding records a finding against a non-completed work order.
func (s *WorkOrderService) AddFinding(ctx context.Context, actor auth.Identity, workOrderID, description string, imagePath *string) (*repository.Finding, error) {
	if description == "" {
		return nil, errors.InvalidInput("description", "must not be empty")
	}

	wo, err := s.orders.GetByID(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo.Status == repository.StatusCompleted {
		return nil, errors.Conflict("cannot add findings to a completed work order")
	}

	f := &repository.Finding{
		WorkOrderID: workOrderID,
		Description: description,
		ImagePath:   imagePath,
	}
	if err := s.findings.CreateFinding(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFinding removes a finding; its actions and sessions cascade. Admin
// and up. Deletion is unconditional at this layer.
func (s *WorkOrderService) DeleteFinding(ctx context.Context, actor auth.Identity, findingID string) error {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	return s.findings.DeleteFinding(ctx, findingID)
}

// AddAction records a remedial action under a finding.
func (s *WorkOrderService) AddAction(ctx context.Context, actor auth.Identity, findingID, description string) (*repository.Action, error) {
	if description == "" {
		return nil, errors.InvalidInput("description", "must not be empty")
	}
	if _, err := s.findings.GetFinding(ctx, findingID); err != nil {
		return nil, err
	}

	a := &repository.Action{
		FindingID:   findingID,
		Description: description,
	}
	if err := s.findings.CreateAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAction removes an action; its sessions cascade. Admin and up.
func (s *WorkOrderService) DeleteAction(ctx context.Context, actor auth.Identity, actionID string) error {
	if err := auth.Require(actor, auth.RoleAdmin); err != nil {
		return err
	}
	return s.findings.DeleteAction(ctx, actionID)
}

// appendAudit writes an audit record; failures are logged, not propagated.
func (s *WorkOrderService) appendAudit(ctx context.Context, workOrderID, action, actorID string, before *repository.WorkOrderStatus, after repository.WorkOrderStatus, metadata map[string]any) {
	var beforeStr *string
	if before != nil {
		v := string(*before)
		beforeStr = &v
	}
	afterStr := string(after)

	err := s.audit.Append(ctx, &repository.AuditEntry{
		WorkOrderID:  workOrderID,
		Action:       action,
		PerformedBy:  actorID,
		StatusBefore: beforeStr,
		StatusAfter:  &afterStr,
		Metadata:     metadata,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("work_order_id", workOrderID).
			Str("action", action).
			Msg("audit: failed to append entry (non-fatal)")
	}
}
