// Package types contains common types used across the application.
package types

// Entry represents a scope leaderboard entry.
type Entry struct {
	Rank   int     `json:"rank"`
	Scope  string  `json:"scope"`
	Score  float64 `json:"score"`
	Letter string  `json:"letter,omitempty"`
}
