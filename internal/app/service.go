// Package service wires collection, metric computation, anomaly detection
// and learning behind the operations exposed by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/devpulse/internal/adapters/influx"
	eventqueue "github.com/okian/devpulse/internal/adapters/mq/queue"
	workerpool "github.com/okian/devpulse/internal/adapters/mq/worker"
	"github.com/okian/devpulse/internal/adapters/repository"
	"github.com/okian/devpulse/internal/adapters/source"
	"github.com/okian/devpulse/internal/config"
	"github.com/okian/devpulse/internal/domain/anomaly"
	"github.com/okian/devpulse/internal/domain/dora"
	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/internal/domain/normalize"
	"github.com/okian/devpulse/internal/domain/quality"
	"github.com/okian/devpulse/internal/domain/scoring"
	"github.com/okian/devpulse/internal/refresh"
	"github.com/okian/devpulse/pkg/logger"
)

const (
	snapshotFamily = "snapshot"
	// zWindow is the number of preceding points a z-score compares against.
	zWindow            = 10
	decompositionSigma = 2.5
)

// Sink receives every persisted snapshot with its new anomalies.
type Sink interface {
	WriteSnapshot(ctx context.Context, snap model.MetricSnapshot, recs []model.AnomalyRecord) error
	Close()
}

// Service implements the API dependencies for the analytics engine.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	// Core components
	store       repository.Store
	leaderboard *repository.Leaderboard
	fetcher     source.Fetcher
	collector   *source.Collector
	normalizer  *normalize.Normalizer
	dora        *dora.Engine
	quality     *quality.Engine
	grader      *scoring.Grader
	detector    *anomaly.Ensemble
	predictor   *forecast.Predictor
	sink        Sink
	queue       *eventqueue.InMemoryQueue
	workerPool  *workerpool.Pool
	cache       *refresh.Cache[model.MetricSnapshot]
	coordinator *refresh.Coordinator[model.MetricSnapshot]

	// scopeLocks serializes persistence with scope deletion.
	scopeLocks sync.Map

	now func() time.Time

	// State
	started    bool
	stopSweep  context.CancelFunc
	sweepDone  chan struct{}
	startedAt  time.Time
	recomputes atomic.Int64
	failures   atomic.Int64

	logger logger.Logger
}

// New constructs a Service from cfg. Components are built on Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the pipeline, restores persisted state and starts the worker
// pool and the background sweep.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting analytics service...")

	if s.store == nil {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		s.store = store
	}
	if s.fetcher == nil {
		f, err := newFetcher(cfg, s.now)
		if err != nil {
			return err
		}
		s.fetcher = f
	}
	if s.sink == nil && cfg.InfluxURL != "" {
		s.sink = influx.New(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		s.logger.Info(ctx, "mirroring snapshots to influx", logger.String("url", cfg.InfluxURL))
	}

	s.leaderboard = repository.NewLeaderboard()
	s.collector = source.NewCollector(s.fetcher,
		source.WithTimeout(cfg.FetchTimeout),
		source.WithRateLimit(cfg.FetchRate, cfg.FetchBurst),
		source.WithConcurrency(cfg.FetchConcurrency),
	)
	s.normalizer = normalize.New(normalize.WithSeenLimit(cfg.DedupeSize))
	s.dora = dora.New(
		dora.WithWindow(cfg.WindowDays),
		dora.WithFailureLookback(cfg.FailureLookback),
		dora.WithMTTRHorizon(cfg.MTTRHorizon),
	)
	s.quality = quality.New(
		quality.WithWindow(cfg.WindowDays),
		quality.WithLateNight(cfg.LateNightStart, cfg.LateNightEnd),
	)
	s.grader = scoring.NewGrader()
	s.detector = anomaly.New(
		anomaly.WithMinPoints(cfg.AnomalyMinPoints),
		anomaly.WithDetectors(
			anomaly.NewZScore(zWindow, cfg.AnomalyZThreshold),
			anomaly.NewIsolation(cfg.AnomalyMinPoints, cfg.AnomalyContamination),
			anomaly.NewDecomposition(cfg.AnomalyMinPoints, decompositionSigma),
		),
	)
	s.predictor = forecast.New(
		forecast.WithMinSamples(cfg.PredictorMinSamples),
		forecast.WithPolicy(forecast.RetrainPolicy{NewSamples: cfg.RetrainNewSamples, Interval: cfg.RetrainInterval}),
		forecast.WithTolerance(cfg.RegressionTolerance),
		forecast.WithHorizon(cfg.ForecastHorizon),
	)

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.QueueSize))
	s.workerPool = workerpool.NewPool(cfg.WorkerCount, s.queue)
	s.cache = refresh.NewCache[model.MetricSnapshot]()
	s.coordinator = refresh.New(s.cache, s.compute,
		refresh.WithTTL(cfg.CacheTTL),
		refresh.WithFamily(snapshotFamily),
		refresh.WithSubmitter(s.queue),
		refresh.WithClock(s.now),
	)

	if err := s.restore(ctx); err != nil {
		return err
	}
	s.workerPool.Start(context.WithoutCancel(ctx))

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopSweep = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(sweepCtx)

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "analytics service started",
		logger.Int("workers", cfg.WorkerCount),
		logger.Int("queueSize", cfg.QueueSize),
		logger.Int("scopes", len(cfg.Scopes)),
		logger.Duration("cacheTTL", cfg.CacheTTL),
	)
	return nil
}

func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StoragePath == "" {
		return repository.NewMemoryStore(repository.WithMaxHistory(cfg.HistoryLimit)), nil
	}
	store, err := repository.OpenBadger(repository.DefaultConfig(cfg.StoragePath))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func newFetcher(cfg *config.Config, now func() time.Time) (source.Fetcher, error) {
	switch cfg.Source {
	case "", "synthetic":
		return source.NewSynthetic(source.DefaultProfile(), now), nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidConfig, cfg.Source)
}

// restore reloads predictor states, the leaderboard and warm cache entries.
func (s *Service) restore(ctx context.Context) error {
	scopes, err := s.store.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("list stored scopes: %w", err)
	}
	known := make(map[string]struct{}, len(scopes)+len(s.cfg.Scopes))
	for _, sc := range scopes {
		known[sc] = struct{}{}
	}
	for sc := range s.cfg.Scopes {
		known[sc] = struct{}{}
	}
	restored := 0
	for sc := range known {
		if st, err := s.store.LoadPredictor(ctx, sc); err == nil {
			s.predictor.Restore(st)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load predictor %s: %w", sc, err)
		}
		snap, err := s.store.LoadSnapshot(ctx, sc)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load snapshot %s: %w", sc, err)
		}
		s.cache.Store(&refresh.Entry[model.MetricSnapshot]{
			Key:        refresh.Key{Scope: sc, Family: snapshotFamily},
			Value:      snap,
			ComputedAt: snap.Timestamp,
			TTL:        s.cfg.CacheTTL,
		})
		if snap.Grade.Status == model.StatusOK {
			s.leaderboard.Set(ctx, sc, snap.Grade.Score, snap.Grade.Letter)
		}
		restored++
	}
	if restored > 0 {
		s.logger.Info(ctx, "restored persisted scopes", logger.Int("scopes", restored))
	}
	return nil
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)
	if s.cfg.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep schedules a recompute for every configured scope that is missing or
// stale and returns how many were scheduled.
func (s *Service) Sweep(ctx context.Context) int {
	n := s.coordinator.Sweep(ctx, s.configuredScopes())
	if n > 0 {
		s.logger.Debug(ctx, "background sweep scheduled recomputes", logger.Int("scheduled", n))
	}
	return n
}

// Stop gracefully shuts down the service.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping analytics service...")

	s.stopSweep()
	<-s.sweepDone
	_ = s.coordinator.Shutdown(ctx)
	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}
	if s.sink != nil {
		s.sink.Close()
	}

	s.started = false
	s.logger.Info(ctx, "analytics service stopped")
}

func (s *Service) configuredScopes() []string {
	out := make([]string, 0, len(s.cfg.Scopes))
	for sc := range s.cfg.Scopes {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

func (s *Service) repos(scope string) ([]string, error) {
	repos, ok := s.cfg.Scopes[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	return repos, nil
}

func (s *Service) scopeLock(scope string) *sync.Mutex {
	l, _ := s.scopeLocks.LoadOrStore(scope, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}
