// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"

	"github.com/okian/devpulse/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler handles health check requests.
type HealthHandler struct{}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// HandleHealth handles GET /healthz requests by serving the Prometheus
// registry.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	// Use our custom metrics registry to serve metrics
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
