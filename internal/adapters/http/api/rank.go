// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rank(ctx context.Context, scope string) (Entry, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /v1/rank/{scope} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Rank(r.Context(), r.PathValue("scope"))
	if err != nil {
		writeFailure(w, "api.get_rank", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
