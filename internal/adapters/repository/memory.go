package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/metrics"
)

type scopeData struct {
	snapshots []model.MetricSnapshot
	anomalies []model.AnomalyRecord
	anomalyID map[string]struct{}
	events    []model.CanonicalEvent
}

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	maxHistory int

	mu         sync.RWMutex
	scopes     map[string]*scopeData
	predictors map[string]*forecast.State
	closed     bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		scopes:     make(map[string]*scopeData),
		predictors: make(map[string]*forecast.State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) data(scope string) *scopeData {
	d, ok := s.scopes[scope]
	if !ok {
		d = &scopeData{anomalyID: make(map[string]struct{})}
		s.scopes[scope] = d
	}
	return d
}

func (s *MemoryStore) check(ctx context.Context, scope string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if scope == "" {
		return ErrInvalidScope
	}
	return nil
}

func (s *MemoryStore) StoreSnapshot(ctx context.Context, snap model.MetricSnapshot) error {
	if err := s.check(ctx, snap.Scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	d := s.data(snap.Scope)
	if n := len(d.snapshots); n > 0 && !snap.Timestamp.After(d.snapshots[n-1].Timestamp) {
		return fmt.Errorf("%w: %s at %s", ErrNotMonotonic, snap.Scope, snap.Timestamp.Format(time.RFC3339Nano))
	}
	d.snapshots = append(d.snapshots, snap)
	if s.maxHistory > 0 && len(d.snapshots) > s.maxHistory {
		d.snapshots = append([]model.MetricSnapshot(nil), d.snapshots[len(d.snapshots)-s.maxHistory:]...)
	}
	metrics.RecordSnapshotPersisted()
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, scope string) (model.MetricSnapshot, error) {
	if err := s.check(ctx, scope); err != nil {
		return model.MetricSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.scopes[scope]
	if !ok || len(d.snapshots) == 0 {
		return model.MetricSnapshot{}, ErrNotFound
	}
	return d.snapshots[len(d.snapshots)-1], nil
}

func (s *MemoryStore) History(ctx context.Context, scope string, limit int) ([]model.MetricSnapshot, error) {
	if err := s.check(ctx, scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.scopes[scope]
	if !ok {
		return nil, nil
	}
	from := 0
	if limit > 0 && len(d.snapshots) > limit {
		from = len(d.snapshots) - limit
	}
	return append([]model.MetricSnapshot(nil), d.snapshots[from:]...), nil
}

func (s *MemoryStore) AppendAnomalies(ctx context.Context, recs []model.AnomalyRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	added := 0
	touched := make(map[string]*scopeData)
	for _, r := range recs {
		if r.Scope == "" {
			return added, ErrInvalidScope
		}
		d := s.data(r.Scope)
		key := r.Key()
		if _, dup := d.anomalyID[key]; dup {
			continue
		}
		d.anomalyID[key] = struct{}{}
		d.anomalies = append(d.anomalies, r)
		touched[r.Scope] = d
		added++
	}
	for _, d := range touched {
		sortAnomalies(d.anomalies)
	}
	return added, nil
}

func (s *MemoryStore) Anomalies(ctx context.Context, scope string, since time.Time) ([]model.AnomalyRecord, error) {
	if err := s.check(ctx, scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.scopes[scope]
	if !ok {
		return nil, nil
	}
	i := sort.Search(len(d.anomalies), func(i int) bool { return !d.anomalies[i].Timestamp.Before(since) })
	return append([]model.AnomalyRecord(nil), d.anomalies[i:]...), nil
}

func (s *MemoryStore) SaveEvents(ctx context.Context, scope string, events []model.CanonicalEvent) error {
	if err := s.check(ctx, scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data(scope).events = append([]model.CanonicalEvent(nil), events...)
	return nil
}

func (s *MemoryStore) LoadEvents(ctx context.Context, scope string) ([]model.CanonicalEvent, error) {
	if err := s.check(ctx, scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.scopes[scope]
	if !ok {
		return nil, nil
	}
	return append([]model.CanonicalEvent(nil), d.events...), nil
}

func (s *MemoryStore) StorePredictor(ctx context.Context, st *forecast.State) error {
	if st == nil {
		return fmt.Errorf("%w: nil predictor state", ErrInvalidScope)
	}
	if err := s.check(ctx, st.Scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.predictors[st.Scope] = st
	return nil
}

func (s *MemoryStore) LoadPredictor(ctx context.Context, scope string) (*forecast.State, error) {
	if err := s.check(ctx, scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.predictors[scope]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) DeleteScope(ctx context.Context, scope string) error {
	if err := s.check(ctx, scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scope)
	return nil
}

func (s *MemoryStore) Scopes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scopes))
	for scope, d := range s.scopes {
		if len(d.snapshots) > 0 {
			out = append(out, scope)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortAnomalies(recs []model.AnomalyRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		if recs[i].Metric != recs[j].Metric {
			return recs[i].Metric < recs[j].Metric
		}
		return recs[i].Method < recs[j].Method
	})
}
