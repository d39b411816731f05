package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/okian/devpulse/internal/domain/model"
)

// AnomalyDependencies lists detected anomalies.
type AnomalyDependencies interface {
	GetAnomalies(ctx context.Context, scope string, since time.Time) ([]model.AnomalyRecord, error)
}

// AnomalyHandler handles anomaly requests.
type AnomalyHandler struct {
	deps AnomalyDependencies
}

// NewAnomalyHandler creates a new anomaly handler.
func NewAnomalyHandler(deps AnomalyDependencies) *AnomalyHandler {
	return &AnomalyHandler{deps: deps}
}

// HandleGetAnomalies handles GET /v1/anomalies/{scope}?since=RFC3339 requests.
func (h *AnomalyHandler) HandleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_anomalies"
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		since = t
	}
	recs, err := h.deps.GetAnomalies(r.Context(), r.PathValue("scope"), since)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if recs == nil {
		recs = []model.AnomalyRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
