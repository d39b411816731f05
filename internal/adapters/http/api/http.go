// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/devpulse/internal/adapters/repository"
	service "github.com/okian/devpulse/internal/app"
	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/types"
	"github.com/okian/devpulse/internal/refresh"
)

// StaleHeader carries "true" when the served snapshot is past its TTL.
const StaleHeader = "X-Devpulse-Stale"

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	MetricsDependencies
	AnomalyDependencies
	ForecastDependencies
	RefreshDependencies
	ScopeDependencies
	LearningDependencies
	LeaderboardDependencies
	RankDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	metricsHandler     *MetricsHandler
	anomalyHandler     *AnomalyHandler
	forecastHandler    *ForecastHandler
	scopeHandler       *ScopeHandler
	learningHandler    *LearningHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, maxLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		metricsHandler:     NewMetricsHandler(deps),
		anomalyHandler:     NewAnomalyHandler(deps),
		forecastHandler:    NewForecastHandler(deps),
		scopeHandler:       NewScopeHandler(deps),
		learningHandler:    NewLearningHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /v1/metrics/{scope}", MetricsMiddleware(s.metricsHandler.HandleGetMetrics, "metrics"))
	mux.HandleFunc("GET /v1/anomalies/{scope}", MetricsMiddleware(s.anomalyHandler.HandleGetAnomalies, "anomalies"))
	mux.HandleFunc("GET /v1/forecast/{scope}", MetricsMiddleware(s.forecastHandler.HandleGetForecast, "forecast"))
	mux.HandleFunc("POST /v1/refresh/{scope}", MetricsMiddleware(s.scopeHandler.HandleRefresh, "refresh"))
	mux.HandleFunc("DELETE /v1/scopes/{scope}", MetricsMiddleware(s.scopeHandler.HandleDelete, "delete_scope"))
	mux.HandleFunc("GET /v1/learning/{scope}", MetricsMiddleware(s.learningHandler.HandleGetStatus, "learning"))
	mux.HandleFunc("POST /v1/learning/{scope}/rollback", MetricsMiddleware(s.learningHandler.HandleRollback, "rollback"))
	mux.HandleFunc("GET /v1/risk/{scope}", MetricsMiddleware(s.learningHandler.HandleGetRisk, "risk"))
	mux.HandleFunc("GET /v1/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /v1/rank/{scope}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure translates upstream errors into a status and code.
func writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, forecast.ErrUnknownMetric),
		errors.Is(err, forecast.ErrUnknownVersion),
		errors.Is(err, repository.ErrInvalidLimit),
		errors.Is(err, repository.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrUnknownScope),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, forecast.ErrUnavailable),
		errors.Is(err, forecast.ErrDeprecated):
		writeError(w, http.StatusConflict, "model_unavailable", WrapKind(op, ErrUnavailable, err))
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, refresh.ErrClosed),
		errors.Is(err, refresh.ErrCancelled):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", Wrap(op, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

// MetricsDependencies serves snapshots.
type MetricsDependencies interface {
	GetMetrics(ctx context.Context, scope string) (refresh.View[model.MetricSnapshot], error)
}

// metricsResponse labels every degraded state alongside the snapshot.
type metricsResponse struct {
	Scope      string               `json:"scope"`
	ComputedAt time.Time            `json:"computed_at"`
	Stale      bool                 `json:"stale"`
	Refreshing bool                 `json:"refreshing"`
	Partial    bool                 `json:"partial"`
	Snapshot   model.MetricSnapshot `json:"snapshot"`
}

// MetricsHandler handles snapshot requests.
type MetricsHandler struct {
	deps MetricsDependencies
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(deps MetricsDependencies) *MetricsHandler {
	return &MetricsHandler{deps: deps}
}

// HandleGetMetrics handles GET /v1/metrics/{scope} requests.
func (h *MetricsHandler) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_metrics"
	scope := r.PathValue("scope")
	view, err := h.deps.GetMetrics(r.Context(), scope)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if view.Stale {
		w.Header().Set(StaleHeader, "true")
	} else {
		w.Header().Set(StaleHeader, "false")
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		Scope:      scope,
		ComputedAt: view.ComputedAt,
		Stale:      view.Stale,
		Refreshing: view.Refreshing,
		Partial:    view.Value.Partial,
		Snapshot:   view.Value,
	})
}
