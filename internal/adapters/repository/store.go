// Package repository persists per-scope analytics state and ranks scopes.
package repository

import (
	"context"
	"time"

	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
)

// Store provides durable access to snapshots, anomalies, normalized events
// and predictor state. Implementations must be safe for concurrent use.
type Store interface {
	// StoreSnapshot appends snap to its scope's history. Returns
	// ErrNotMonotonic unless snap is strictly newer than the latest one.
	StoreSnapshot(ctx context.Context, snap model.MetricSnapshot) error
	// LoadSnapshot returns the latest snapshot for scope or ErrNotFound.
	LoadSnapshot(ctx context.Context, scope string) (model.MetricSnapshot, error)
	// History returns up to limit most recent snapshots, oldest first.
	// A limit <= 0 returns the full history.
	History(ctx context.Context, scope string, limit int) ([]model.MetricSnapshot, error)

	// AppendAnomalies stores records not seen before and reports how many
	// were added. Records are de-duplicated on AnomalyRecord.Key.
	AppendAnomalies(ctx context.Context, recs []model.AnomalyRecord) (int, error)
	// Anomalies returns records for scope with Timestamp >= since, ordered
	// by timestamp.
	Anomalies(ctx context.Context, scope string, since time.Time) ([]model.AnomalyRecord, error)

	// SaveEvents replaces the scope's retained normalized events.
	SaveEvents(ctx context.Context, scope string, events []model.CanonicalEvent) error
	// LoadEvents returns the scope's retained events; empty when none.
	LoadEvents(ctx context.Context, scope string) ([]model.CanonicalEvent, error)

	StorePredictor(ctx context.Context, st *forecast.State) error
	// LoadPredictor returns ErrNotFound when no state was stored.
	LoadPredictor(ctx context.Context, scope string) (*forecast.State, error)

	// DeleteScope removes snapshots, anomalies and events of scope. The
	// predictor state is kept so a deprecation survives restarts.
	DeleteScope(ctx context.Context, scope string) error
	// Scopes lists scopes with at least one snapshot, sorted.
	Scopes(ctx context.Context) ([]string, error)

	Close() error
}
