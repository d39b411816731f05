package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/devpulse/internal/domain/forecast"
)

// LearningDependencies exposes the predictor lifecycle.
type LearningDependencies interface {
	LearningStatus(ctx context.Context, scope string) (forecast.LearningStatus, error)
	Rollback(ctx context.Context, scope string, version int) (forecast.LearningStatus, error)
	Risk(ctx context.Context, scope string) (forecast.Risk, error)
}

// LearningHandler handles predictor requests.
type LearningHandler struct {
	deps LearningDependencies
}

// NewLearningHandler creates a new learning handler.
func NewLearningHandler(deps LearningDependencies) *LearningHandler {
	return &LearningHandler{deps: deps}
}

// HandleGetStatus handles GET /v1/learning/{scope}.
func (h *LearningHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.LearningStatus(r.Context(), r.PathValue("scope"))
	if err != nil {
		writeFailure(w, "api.learning_status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRollback handles POST /v1/learning/{scope}/rollback?version=N.
func (h *LearningHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	const op = "api.rollback"
	version, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	st, err := h.deps.Rollback(r.Context(), r.PathValue("scope"), version)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetRisk handles GET /v1/risk/{scope}.
func (h *LearningHandler) HandleGetRisk(w http.ResponseWriter, r *http.Request) {
	risk, err := h.deps.Risk(r.Context(), r.PathValue("scope"))
	if err != nil {
		writeFailure(w, "api.risk", err)
		return
	}
	writeJSON(w, http.StatusOK, risk)
}
