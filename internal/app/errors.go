package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrUnknownScope = errors.New("unknown scope")
	ErrNotStarted   = errors.New("service not started")
)
