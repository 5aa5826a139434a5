package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/errors"
	"github.com/fieldware/be-mnt-workorders/internal/logger"
	"github.com/fieldware/be-mnt-workorders/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	orders   *service.WorkOrderService
	sessions *service.SessionService
	authSvc  *service.AuthService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(orders *service.WorkOrderService, sessions *service.SessionService, authSvc *service.AuthService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders:   orders,
		sessions: sessions,
		authSvc:  authSvc,
		log:      log,
	}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to HTTP. Internal details are logged,
// not exposed.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(err)

	body := map[string]any{"code": string(code)}
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body["error"] = "internal server error"
	} else {
		var e *errors.Error
		if stderrors.As(err, &e) {
			body["error"] = e.Message
			if e.Detail != nil {
				body["detail"] = e.Detail
			}
		} else {
			body["error"] = err.Error()
		}
	}

	h.writeJSON(w, status, body)
}

func (h *HTTPHandler) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := auth.IdentityFrom(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return auth.Identity{}, false
	}
	return id, true
}

// ── Auth ─────────────────────────────────────────────────────────────────────

// Login verifies credentials and returns a bearer token.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	token, user, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// Register creates a user account (superadmin only).
func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	user, err := h.authSvc.Register(r.Context(), actor, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

// ── Work orders ──────────────────────────────────────────────────────────────

// CreateWorkOrder registers a new work order in pending status.
func (h *HTTPHandler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req service.CreateWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	wo, err := h.orders.Create(r.Context(), actor, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wo)
}

// GetWorkOrder returns a work order with its full finding/action/session tree.
func (h *HTTPHandler) GetWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	wo, err := h.orders.Get(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wo)
}

// ListWorkOrders lists work orders with optional status filter and paging.
func (h *HTTPHandler) ListWorkOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	orders, total, err := h.orders.List(r.Context(), actor, status, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"work_orders": orders,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// ApproveWorkOrder moves pending → ongoing.
func (h *HTTPHandler) ApproveWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor auth.Identity, id string) (any, error) {
		return h.orders.Approve(r.Context(), actor, id)
	})
}

// RejectWorkOrder moves pending → rejected with a reason.
func (h *HTTPHandler) RejectWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	h.transition(w, r, func(actor auth.Identity, id string) (any, error) {
		return h.orders.Reject(r.Context(), actor, id, req.Reason)
	})
}

// ResubmitWorkOrder moves rejected → pending (owner only).
func (h *HTTPHandler) ResubmitWorkOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor auth.Identity, id string) (any, error) {
		return h.orders.Resubmit(r.Context(), actor, id)
	})
}

// RequestCompletion moves ongoing → completion_requested.
func (h *HTTPHandler) RequestCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkCompletedDate string `json:"work_completed_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	h.transition(w, r, func(actor auth.Identity, id string) (any, error) {
		return h.orders.RequestCompletion(r.Context(), actor, id, req.WorkCompletedDate)
	})
}

// ApproveCompletion moves completion_requested → completed (superadmin).
func (h *HTTPHandler) ApproveCompletion(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor auth.Identity, id string) (any, error) {
		return h.orders.ApproveCompletion(r.Context(), actor, id)
	})
}

// RejectCompletion moves completion_requested → ongoing with a reason.
func (h *HTTPHandler) RejectCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	h.transition(w, r, func(actor auth.Identity, id string) (any, error) {
		return h.orders.RejectCompletion(r.Context(), actor, id, req.Reason)
	})
}

// DeleteWorkOrder removes a work order and its tree.
func (h *HTTPHandler) DeleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.orders.Delete(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WorkOrderAudit returns the lifecycle audit trail.
func (h *HTTPHandler) WorkOrderAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	entries, err := h.orders.AuditTrail(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *HTTPHandler) transition(w http.ResponseWriter, r *http.Request, fn func(actor auth.Identity, id string) (any, error)) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	result, err := fn(actor, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ── Findings and actions ─────────────────────────────────────────────────────

// AddFinding records a finding against a work order.
func (h *HTTPHandler) AddFinding(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Description string  `json:"description"`
		ImagePath   *string `json:"image_path,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	f, err := h.orders.AddFinding(r.Context(), actor, mux.Vars(r)["id"], req.Description, req.ImagePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, f)
}

// DeleteFinding removes a finding and its subtree.
func (h *HTTPHandler) DeleteFinding(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.orders.DeleteFinding(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAction records a remedial action under a finding.
func (h *HTTPHandler) AddAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	a, err := h.orders.AddAction(r.Context(), actor, mux.Vars(r)["id"], req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

// DeleteAction removes an action and its sessions.
func (h *HTTPHandler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.orders.DeleteAction(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Sessions ─────────────────────────────────────────────────────────────────

// AddSession starts a new work session on an action.
func (h *HTTPHandler) AddSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req service.AddSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	session, err := h.sessions.Add(r.Context(), actor, mux.Vars(r)["id"], &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, session)
}

// ListSessions returns an action's sessions.
func (h *HTTPHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	sessions, err := h.sessions.ListByAction(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// CompleteSession marks the latest session of an action completed.
func (h *HTTPHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	session, err := h.sessions.MarkCompleted(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// RevertSession reopens a completed session (admin).
func (h *HTTPHandler) RevertSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	session, err := h.sessions.Revert(r.Context(), actor, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// EditSession updates a session's date/time fields.
func (h *HTTPHandler) EditSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req service.EditSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	session, err := h.sessions.Edit(r.Context(), actor, mux.Vars(r)["id"], &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// DeleteSession removes a session (admin).
func (h *HTTPHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
