package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/devpulse/internal/adapters/repository"
	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/types"
	"github.com/okian/devpulse/internal/refresh"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

// GetMetrics serves the scope's latest snapshot. A stale snapshot is served
// at once while one recompute runs; a cold scope waits for its first one.
func (s *Service) GetMetrics(ctx context.Context, scope string) (refresh.View[model.MetricSnapshot], error) {
	if err := s.ready(); err != nil {
		return refresh.View[model.MetricSnapshot]{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return refresh.View[model.MetricSnapshot]{}, err
	}
	view, err := s.coordinator.Get(ctx, scope)
	if err != nil {
		return view, err
	}
	if view.Stale {
		s.logger.Warn(ctx, "served stale snapshot",
			logger.Scope(scope),
			logger.Time("computed_at", view.ComputedAt),
			logger.Error(model.ErrStaleServed))
	}
	return view, nil
}

// Recompute forces a recompute and waits for its result, joining one that
// is already in flight.
func (s *Service) Recompute(ctx context.Context, scope string) (model.MetricSnapshot, error) {
	if err := s.ready(); err != nil {
		return model.MetricSnapshot{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return model.MetricSnapshot{}, err
	}
	return s.coordinator.RefreshWait(ctx, scope)
}

// GetAnomalies returns the scope's anomaly records whose point timestamp is
// at or after since.
func (s *Service) GetAnomalies(ctx context.Context, scope string, since time.Time) ([]model.AnomalyRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.repos(scope); err != nil {
		return nil, err
	}
	return s.store.Anomalies(ctx, scope, since)
}

// GetForecast projects metric horizon steps ahead. Returns
// forecast.ErrUnavailable until the scope has a trained model.
func (s *Service) GetForecast(ctx context.Context, scope, metric string, horizon int) (forecast.Forecast, error) {
	if err := s.ready(); err != nil {
		return forecast.Forecast{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return forecast.Forecast{}, err
	}
	if horizon <= 0 {
		horizon = s.cfg.ForecastHorizon
	}
	history, err := s.store.History(ctx, scope, s.cfg.HistoryLimit)
	if err != nil {
		return forecast.Forecast{}, fmt.Errorf("load history: %w", err)
	}
	return s.predictor.Forecast(scope, metric, horizon, history, s.now())
}

// ForceRefresh schedules a recompute, or joins the one in flight.
func (s *Service) ForceRefresh(ctx context.Context, scope string) (refresh.Ack, error) {
	if err := s.ready(); err != nil {
		return refresh.Ack{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return refresh.Ack{}, err
	}
	ack, err := s.coordinator.Refresh(ctx, scope)
	if err != nil {
		return ack, err
	}
	s.logger.Debug(ctx, "refresh requested", logger.Scope(scope),
		logger.String("task", ack.TaskID), logger.Bool("joined", ack.Joined))
	return ack, nil
}

// DeleteScope removes the scope's snapshots, anomalies, events and cache
// entries, cancels its in-flight recompute and deprecates its predictor.
func (s *Service) DeleteScope(ctx context.Context, scope string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.repos(scope); err != nil {
		return err
	}
	s.coordinator.Delete(scope)

	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.DeleteScope(ctx, scope); err != nil {
		return fmt.Errorf("delete %s: %w", scope, err)
	}
	s.normalizer.Forget(scope)
	s.leaderboard.Remove(ctx, scope)
	st := s.predictor.Deprecate(scope)
	if err := s.store.StorePredictor(ctx, st); err != nil {
		return fmt.Errorf("store deprecated predictor %s: %w", scope, err)
	}
	metrics.ForgetScope(scope)
	s.logger.Info(ctx, "scope deleted", logger.Scope(scope))
	return nil
}

// LearningStatus reports the scope's predictor lifecycle.
func (s *Service) LearningStatus(ctx context.Context, scope string) (forecast.LearningStatus, error) {
	if err := s.ready(); err != nil {
		return forecast.LearningStatus{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return forecast.LearningStatus{}, err
	}
	return s.predictor.Status(scope), nil
}

// Rollback re-activates a retained predictor version.
func (s *Service) Rollback(ctx context.Context, scope string, version int) (forecast.LearningStatus, error) {
	if err := s.ready(); err != nil {
		return forecast.LearningStatus{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return forecast.LearningStatus{}, err
	}
	if err := s.predictor.Rollback(scope, version); err != nil {
		return forecast.LearningStatus{}, err
	}
	if err := s.store.StorePredictor(ctx, s.predictor.State(scope)); err != nil {
		return forecast.LearningStatus{}, fmt.Errorf("store predictor %s: %w", scope, err)
	}
	s.logger.Info(ctx, "predictor rolled back", logger.Scope(scope), logger.Int("version", version))
	return s.predictor.Status(scope), nil
}

// Risk compares the scope's recent grades with older ones.
func (s *Service) Risk(ctx context.Context, scope string) (forecast.Risk, error) {
	if err := s.ready(); err != nil {
		return forecast.Risk{}, err
	}
	if _, err := s.repos(scope); err != nil {
		return forecast.Risk{}, err
	}
	history, err := s.store.History(ctx, scope, s.cfg.HistoryLimit)
	if err != nil {
		return forecast.Risk{}, err
	}
	return forecast.DegradationRisk(history), nil
}

// TopN returns the best n scopes by latest grade.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.leaderboard.TopN(ctx, n)
}

// Rank returns the scope's leaderboard entry.
func (s *Service) Rank(ctx context.Context, scope string) (types.Entry, error) {
	if err := s.ready(); err != nil {
		return types.Entry{}, err
	}
	entry, err := s.leaderboard.Rank(ctx, scope)
	if errors.Is(err, repository.ErrNotFound) {
		return types.Entry{}, fmt.Errorf("%w: %q has no grade yet", repository.ErrNotFound, scope)
	}
	return entry, err
}

// Scopes lists configured scopes.
func (s *Service) Scopes() []string { return s.configuredScopes() }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
		"scopes":      len(s.cfg.Scopes),
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	queueLen := s.queue.Len(ctx)
	stats["queueLength"] = queueLen
	stats["inFlight"] = s.coordinator.Pending()
	stats["cachedScopes"] = s.cache.Len()
	stats["rankedScopes"] = s.leaderboard.Count(ctx)
	stats["recomputes"] = s.recomputes.Load()
	stats["recomputeFailures"] = s.failures.Load()
	stats["tasksProcessed"] = s.workerPool.Processed()
	stats["uptimeSeconds"] = int64(s.now().Sub(s.startedAt).Seconds())

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateCacheScopes(s.cache.Len())
	return stats
}
