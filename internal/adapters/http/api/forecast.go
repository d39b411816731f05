package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/devpulse/internal/domain/forecast"
)

// maxHorizon bounds the steps a single forecast may project.
const maxHorizon = 90

// ForecastDependencies projects metrics forward.
type ForecastDependencies interface {
	GetForecast(ctx context.Context, scope, metric string, horizon int) (forecast.Forecast, error)
}

// ForecastHandler handles forecast requests.
type ForecastHandler struct {
	deps ForecastDependencies
}

// NewForecastHandler creates a new forecast handler.
func NewForecastHandler(deps ForecastDependencies) *ForecastHandler {
	return &ForecastHandler{deps: deps}
}

// HandleGetForecast handles GET /v1/forecast/{scope}?metric=&horizon= requests.
// A missing horizon selects the configured default.
func (h *ForecastHandler) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_forecast"
	q := r.URL.Query()
	horizon := 0
	if raw := q.Get("horizon"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHorizon {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		horizon = n
	}
	fc, err := h.deps.GetForecast(r.Context(), r.PathValue("scope"), q.Get("metric"), horizon)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}
