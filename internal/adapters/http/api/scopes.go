package api

import (
	"context"
	"net/http"

	"github.com/okian/devpulse/internal/refresh"
)

// RefreshDependencies schedules recomputes.
type RefreshDependencies interface {
	ForceRefresh(ctx context.Context, scope string) (refresh.Ack, error)
}

// ScopeDependencies removes scopes.
type ScopeDependencies interface {
	DeleteScope(ctx context.Context, scope string) error
}

type scopeDeps interface {
	RefreshDependencies
	ScopeDependencies
}

// ScopeHandler handles refresh and deletion requests.
type ScopeHandler struct {
	deps scopeDeps
}

// NewScopeHandler creates a new scope handler.
func NewScopeHandler(deps scopeDeps) *ScopeHandler {
	return &ScopeHandler{deps: deps}
}

// HandleRefresh handles POST /v1/refresh/{scope}; the recompute runs in the
// background and the response acknowledges it.
func (h *ScopeHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh"
	ack, err := h.deps.ForceRefresh(r.Context(), r.PathValue("scope"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// HandleDelete handles DELETE /v1/scopes/{scope}.
func (h *ScopeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_scope"
	if err := h.deps.DeleteScope(r.Context(), r.PathValue("scope")); err != nil {
		writeFailure(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
