package dora

import (
	"time"

	"github.com/okian/devpulse/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithWindow sets the rolling window length in days.
func WithWindow(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.windowDays = days
		}
	}
}

// WithFailureLookback sets how far back a failure looks for a prior deploy.
func WithFailureLookback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookback = d
		}
	}
}

// WithMTTRHorizon bounds the search for a fixing merge.
func WithMTTRHorizon(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.horizon = d
		}
	}
}

// WithLexicon replaces the failure lexicon. Categories are matched in order.
func WithLexicon(categories []Category) Option {
	return func(e *Engine) {
		if len(categories) > 0 {
			e.lexicon = categories
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
