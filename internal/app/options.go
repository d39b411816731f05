package service

import (
	"time"

	"github.com/okian/devpulse/internal/adapters/repository"
	"github.com/okian/devpulse/internal/adapters/source"
	"github.com/okian/devpulse/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore replaces the store opened from configuration.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithFetcher replaces the event provider selected by configuration.
func WithFetcher(f source.Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithSink mirrors each snapshot to a time-series sink.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock sets the time source for snapshots, caching and training.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
