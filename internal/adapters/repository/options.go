package repository

import (
	"time"

	"github.com/okian/devpulse/pkg/logger"
)

// Config configures a BadgerStore.
type Config struct {
	// Path is the database directory; ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval runs value-log GC periodically; 0 disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         logger.Logger
}

// DefaultConfig returns a disk-backed configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     false,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, GCDiscardRatio: 0.5}
}

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMaxHistory caps retained snapshots per scope; 0 keeps everything.
func WithMaxHistory(n int) Option {
	return func(s *MemoryStore) {
		if n >= 0 {
			s.maxHistory = n
		}
	}
}
