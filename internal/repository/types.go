package repository

import "time"

// ── Domain types for the work-order lifecycle ────────────────────────────────

// WorkOrderStatus is the closed set of lifecycle states.
type WorkOrderStatus string

const (
	StatusPending             WorkOrderStatus = "pending"
	StatusOngoing             WorkOrderStatus = "ongoing"
	StatusCompletionRequested WorkOrderStatus = "completion_requested"
	StatusCompleted           WorkOrderStatus = "completed"
	StatusRejected            WorkOrderStatus = "rejected"
)

// WorkOrderEvent is a lifecycle transition trigger.
type WorkOrderEvent string

const (
	EventApprove           WorkOrderEvent = "approve"
	EventReject            WorkOrderEvent = "reject"
	EventResubmit          WorkOrderEvent = "resubmit"
	EventRequestCompletion WorkOrderEvent = "request_completion"
	EventApproveCompletion WorkOrderEvent = "approve_completion"
	EventRejectCompletion  WorkOrderEvent = "reject_completion"
)

// transitions is the single source of truth for legal status changes.
// completed is terminal: it has no outgoing edges.
var transitions = map[WorkOrderStatus]map[WorkOrderEvent]WorkOrderStatus{
	StatusPending: {
		EventApprove: StatusOngoing,
		EventReject:  StatusRejected,
	},
	StatusRejected: {
		EventResubmit: StatusPending,
	},
	StatusOngoing: {
		EventRequestCompletion: StatusCompletionRequested,
	},
	StatusCompletionRequested: {
		EventApproveCompletion: StatusCompleted,
		EventRejectCompletion:  StatusOngoing,
	},
}

// NextStatus returns the target status for an event from the given state,
// or false when the event is not legal from that state.
func NextStatus(from WorkOrderStatus, event WorkOrderEvent) (WorkOrderStatus, bool) {
	to, ok := transitions[from][event]
	return to, ok
}

// WorkOrder is the top-level unit of maintenance work.
type WorkOrder struct {
	ID                    string          `json:"id"`
	WorkOrderNo           string          `json:"work_order_no"`
	WorkOrderDate         string          `json:"work_order_date"` // YYYY-MM-DD
	Description           string          `json:"description"`
	Location              *string         `json:"location,omitempty"`
	Status                WorkOrderStatus `json:"status"`
	RequestedBy           string          `json:"requested_by"`
	CompletionRequestedBy *string         `json:"completion_requested_by,omitempty"`
	CompletionRequestedAt *time.Time      `json:"completion_requested_at,omitempty"`
	CompletionApprovedBy  *string         `json:"completion_approved_by,omitempty"`
	CompletionApprovedAt  *time.Time      `json:"completion_approved_at,omitempty"`
	RejectionReason       *string         `json:"rejection_reason,omitempty"`
	WorkCompletedDate     *string         `json:"work_completed_date,omitempty"` // YYYY-MM-DD
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	Findings              []*Finding      `json:"findings,omitempty"`
}

// Finding is a defect or observation recorded against a work order.
type Finding struct {
	ID          string    `json:"id"`
	WorkOrderID string    `json:"work_order_id"`
	Description string    `json:"description"`
	ImagePath   *string   `json:"image_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Actions     []*Action `json:"actions,omitempty"`
}

// Action is a remedial task addressing a finding.
type Action struct {
	ID          string           `json:"id"`
	FindingID   string           `json:"finding_id"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Sessions    []*ActionSession `json:"sessions,omitempty"`
}

// ActionSession is one dated work interval against an action. An action may
// accumulate many sessions as work is interrupted and resumed.
type ActionSession struct {
	ID          string    `json:"id"`
	ActionID    string    `json:"action_id"`
	ActionDate  string    `json:"action_date"` // YYYY-MM-DD, unique per action
	StartTime   string    `json:"start_time"`  // HH:MM
	EndTime     *string   `json:"end_time,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Closed reports whether the session has a recorded end time.
func (s *ActionSession) Closed() bool {
	return s.EndTime != nil && *s.EndTime != ""
}

// LatestSession returns the session with the maximum action date, or nil for
// an empty slice. ISO dates compare correctly as strings. This is the only
// place the "latest session" derivation lives.
func LatestSession(sessions []*ActionSession) *ActionSession {
	var latest *ActionSession
	for _, s := range sessions {
		if latest == nil || s.ActionDate > latest.ActionDate {
			latest = s
		}
	}
	return latest
}

// UnclosedSession identifies a latest session blocking the completeness gate.
type UnclosedSession struct {
	SessionID  string `json:"session_id"`
	ActionID   string `json:"action_id"`
	FindingID  string `json:"finding_id"`
	ActionDate string `json:"action_date"`
}

// User is an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuditEntry is one immutable record of a lifecycle transition.
type AuditEntry struct {
	ID           string         `json:"id"`
	WorkOrderID  string         `json:"work_order_id"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
