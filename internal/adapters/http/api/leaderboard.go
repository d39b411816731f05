// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strconv"
)

const defaultLimit = 10

// LeaderboardDependencies defines the interface for leaderboard operations
type LeaderboardDependencies interface {
	TopN(ctx context.Context, n int) ([]Entry, error)
}

// LeaderboardHandler handles leaderboard requests
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /v1/leaderboard?limit=N requests
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
