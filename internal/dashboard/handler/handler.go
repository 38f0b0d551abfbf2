package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	assocmodels "pulseboard/internal/association/models"
	"pulseboard/internal/dashboard/models"
	dErrors "pulseboard/pkg/domain-errors"
	"pulseboard/pkg/platform/httputil"
)

// Service is the dashboard surface consumed by the HTTP layer.
type Service interface {
	State(ctx context.Context, userID uuid.UUID) (models.State, error)
	Refresh(ctx context.Context, userID uuid.UUID) error
	Repair(ctx context.Context, userID uuid.UUID, userEmail string) assocmodels.RepairOutcome
	RepairOutcome(userID uuid.UUID) assocmodels.RepairOutcome
	Deactivate(userID uuid.UUID)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/dashboard", h.HandleState)
	r.Post("/api/dashboard/refresh", h.HandleRefresh)
	r.Delete("/api/dashboard", h.HandleDeactivate)
	r.Post("/api/dashboard/repair", h.HandleRepair)
	r.Get("/api/dashboard/repair", h.HandleRepairOutcome)
}

// StateResponse is the observable dashboard state exposed to the UI layer.
// Remedy tells the client which action to offer: repair, contact_admin,
// retry, or none.
type StateResponse struct {
	models.State
	Remedy string `json:"remedy,omitempty"`
}

// HandleState returns the current fetch state for the caller's dashboard.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	state, err := h.service.State(r.Context(), userID)
	if err != nil {
		h.writeClassified(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StateResponse{
		State:  state,
		Remedy: remedyFor(state.Classification),
	})
}

// HandleRefresh re-triggers the caller's dashboard fetch.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.Refresh(r.Context(), userID); err != nil {
		h.writeClassified(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleDeactivate tears down the caller's dashboard scope.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	h.service.Deactivate(userID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRepair runs the association repair flow. Repair failures are part of
// the outcome value, not HTTP errors.
func (h *Handler) HandleRepair(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	outcome := h.service.Repair(r.Context(), userID, r.Header.Get("X-User-Email"))
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

// HandleRepairOutcome returns the caller's last repair outcome.
func (h *Handler) HandleRepairOutcome(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.service.RepairOutcome(userID))
}

// userID extracts the authenticated user from the X-User-ID header, which
// the upstream auth proxy injects. Session management is outside this
// service.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing X-User-ID header"))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid X-User-ID header"))
		return uuid.Nil, false
	}
	return userID, true
}

// writeClassified maps access errors onto responses that include the remedy,
// so the UI never needs to inspect messages.
func (h *Handler) writeClassified(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(code), map[string]string{
		"error":             string(code),
		"error_description": err.Error(),
		"remedy":            remedyFor(code),
	})
}

func remedyFor(code dErrors.Code) string {
	switch code {
	case dErrors.CodeNoTenant:
		return "repair"
	case dErrors.CodeNotAuthorized, dErrors.CodeFeatureDisabled:
		return "contact_admin"
	case dErrors.CodeTransient, dErrors.CodeOther:
		return "retry"
	default:
		return ""
	}
}
