package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("scope not found")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrNotMonotonic = errors.New("snapshot timestamp not after latest")
	ErrInvalidScope = errors.New("invalid scope")
	ErrClosed       = errors.New("store closed")
)
