package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/devpulse/internal/adapters/repository"
	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/normalize"
	"github.com/okian/devpulse/internal/domain/scoring"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

// retention is how much event history a scope keeps: the current window,
// the prior window its trends compare against, and the failure lookback.
func (s *Service) retention() time.Duration {
	return 2*s.dora.Window() + s.cfg.FailureLookback
}

// compute runs one full recompute of scope. It is the coordinator's
// ComputeFunc, and the coordinator records its latency and outcome; persistence happens under the scope lock and only while ctx
// is live, so a deleted or cancelled scope is never written back.
func (s *Service) compute(ctx context.Context, scope string) (model.MetricSnapshot, error) {
	start := time.Now()
	s.recomputes.Add(1)
	snap, err := s.recompute(ctx, scope)
	switch {
	case err == nil:
		s.logger.Info(ctx, "scope recomputed",
			logger.Scope(scope),
			logger.Int("events", snap.EventCount),
			logger.Float64("grade", snap.Grade.Score),
			logger.Bool("partial", snap.Partial),
			logger.Duration("took", time.Since(start)))
	case ctx.Err() != nil:
		s.logger.Debug(ctx, "recompute cancelled", logger.Scope(scope), logger.Error(err))
	default:
		s.failures.Add(1)
		metrics.RecordErrorByComponent("service", "recompute")
		s.logger.Error(ctx, "recompute failed", logger.Scope(scope), logger.Error(err))
	}
	return snap, err
}

func (s *Service) recompute(ctx context.Context, scope string) (model.MetricSnapshot, error) {
	repos, err := s.repos(scope)
	if err != nil {
		return model.MetricSnapshot{}, err
	}
	now := s.now()
	cutoff := now.Add(-s.retention())

	existing, err := s.store.LoadEvents(ctx, scope)
	if err != nil {
		return model.MetricSnapshot{}, fmt.Errorf("load events: %w", err)
	}
	fetched, err := s.collector.Collect(ctx, repos, cutoff)
	if err != nil {
		return model.MetricSnapshot{}, err
	}
	if perr := fetched.Err(); perr != nil {
		s.logger.Warn(ctx, "computing from partial data",
			logger.Scope(scope),
			logger.Any("repos", fetched.PartialRepos()),
			logger.Error(perr))
	}

	ingested := s.normalizer.Ingest(ctx, scope, fetched.Batches...)
	events := normalize.Prune(normalize.Merge(existing, ingested.Events), cutoff)

	d := s.dora.Compute(ctx, events, now)
	q := s.quality.Compute(ctx, events, now)
	grade, err := s.grader.Score(ctx, scoring.Input{
		DORA:          d,
		Quality:       q.Quality,
		Productivity:  q.Productivity,
		Collaboration: q.Collaboration,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.normalizer.Unrecord(ctx, scope, ingested.IDs())
			return model.MetricSnapshot{}, err
		}
		// The grade carries its own error status; the snapshot is still useful.
		s.logger.Warn(ctx, "grading failed", logger.Scope(scope), logger.Error(err))
	}

	snap := model.MetricSnapshot{
		Scope:         scope,
		Timestamp:     now,
		DORA:          d,
		Quality:       q.Quality,
		Productivity:  q.Productivity,
		Collaboration: q.Collaboration,
		Grade:         grade,
		Partial:       fetched.Partial(),
		PartialRepos:  fetched.PartialRepos(),
		EventCount:    len(events),
	}

	recs, err := s.persist(ctx, &snap, events)
	if err != nil {
		// Forget what was ingested so the next attempt sees those events again.
		s.normalizer.Unrecord(context.WithoutCancel(ctx), scope, ingested.IDs())
		return model.MetricSnapshot{}, err
	}
	if s.sink != nil {
		_ = s.sink.WriteSnapshot(ctx, snap, recs)
	}
	return snap, nil
}

// persist stores the snapshot and events, then runs detection and learning
// over the updated history. It returns the newly stored anomaly records.
// snap.Timestamp is moved forward when the clock has not advanced past the
// latest stored snapshot.
func (s *Service) persist(ctx context.Context, snap *model.MetricSnapshot, events []model.CanonicalEvent) ([]model.AnomalyRecord, error) {
	scope := snap.Scope
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	if last, err := s.store.LoadSnapshot(ctx, scope); err == nil && !snap.Timestamp.After(last.Timestamp) {
		snap.Timestamp = last.Timestamp.Add(time.Nanosecond)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	if err := s.store.SaveEvents(ctx, scope, events); err != nil {
		return nil, fmt.Errorf("save events: %w", err)
	}
	if err := s.store.StoreSnapshot(ctx, *snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	if snap.Grade.Status == model.StatusOK {
		s.leaderboard.Set(ctx, scope, snap.Grade.Score, snap.Grade.Letter)
		metrics.UpdateGradeScore(scope, snap.Grade.Score)
	}

	history, err := s.store.History(ctx, scope, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var added []model.AnomalyRecord
	recs, err := s.detector.Detect(ctx, scope, history, snap.Timestamp)
	if err != nil {
		s.logger.Warn(ctx, "anomaly detection failed", logger.Scope(scope), logger.Error(err))
	} else if len(recs) > 0 {
		known, err := s.store.Anomalies(ctx, scope, recs[0].Timestamp)
		if err != nil {
			return nil, fmt.Errorf("load anomalies: %w", err)
		}
		seen := make(map[string]struct{}, len(known))
		for _, r := range known {
			seen[r.Key()] = struct{}{}
		}
		for _, r := range recs {
			if _, dup := seen[r.Key()]; !dup {
				added = append(added, r)
			}
		}
		if _, err := s.store.AppendAnomalies(ctx, added); err != nil {
			return nil, fmt.Errorf("append anomalies: %w", err)
		}
	}

	st, err := s.predictor.Observe(ctx, scope, history, snap.Timestamp)
	switch {
	case errors.Is(err, forecast.ErrDeprecated):
		s.logger.Debug(ctx, "predictor deprecated, not learning", logger.Scope(scope))
	case err != nil:
		s.logger.Warn(ctx, "predictor training failed", logger.Scope(scope), logger.Error(err))
	}
	if st != nil {
		if err := s.store.StorePredictor(ctx, st); err != nil {
			return nil, fmt.Errorf("store predictor: %w", err)
		}
	}
	return added, nil
}
