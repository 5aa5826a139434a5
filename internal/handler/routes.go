package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fieldware/be-mnt-workorders/internal/auth"
	"github.com/fieldware/be-mnt-workorders/internal/middleware"
)

// Routes builds the API router. Everything under /api/v1 except login
// requires a bearer token.
func (h *HTTPHandler) Routes(gate *auth.Gate) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Auth(gate))

	authed.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)

	authed.HandleFunc("/work-orders", h.ListWorkOrders).Methods(http.MethodGet)
	authed.HandleFunc("/work-orders", h.CreateWorkOrder).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}", h.GetWorkOrder).Methods(http.MethodGet)
	authed.HandleFunc("/work-orders/{id}", h.DeleteWorkOrder).Methods(http.MethodDelete)
	authed.HandleFunc("/work-orders/{id}/approve", h.ApproveWorkOrder).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}/reject", h.RejectWorkOrder).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}/resubmit", h.ResubmitWorkOrder).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}/request-completion", h.RequestCompletion).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}/approve-completion", h.ApproveCompletion).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}/reject-completion", h.RejectCompletion).Methods(http.MethodPost)
	authed.HandleFunc("/work-orders/{id}/audit", h.WorkOrderAudit).Methods(http.MethodGet)
	authed.HandleFunc("/work-orders/{id}/findings", h.AddFinding).Methods(http.MethodPost)

	authed.HandleFunc("/findings/{id}", h.DeleteFinding).Methods(http.MethodDelete)
	authed.HandleFunc("/findings/{id}/actions", h.AddAction).Methods(http.MethodPost)

	authed.HandleFunc("/actions/{id}", h.DeleteAction).Methods(http.MethodDelete)
	authed.HandleFunc("/actions/{id}/sessions", h.ListSessions).Methods(http.MethodGet)
	authed.HandleFunc("/actions/{id}/sessions", h.AddSession).Methods(http.MethodPost)

	authed.HandleFunc("/sessions/{id}", h.EditSession).Methods(http.MethodPatch)
	authed.HandleFunc("/sessions/{id}", h.DeleteSession).Methods(http.MethodDelete)
	authed.HandleFunc("/sessions/{id}/complete", h.CompleteSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/revert", h.RevertSession).Methods(http.MethodPost)

	return r
}
