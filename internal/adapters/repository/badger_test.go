package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	_ = logger.Init()
	s, err := OpenBadger(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestBadgerStore_Snapshots verifies append-only, ordered snapshot history.
func TestBadgerStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	_, err := s.LoadSnapshot(ctx, "team")
	assert.ErrorIs(t, err, ErrNotFound)

	for d := 0; d < 5; d++ {
		require.NoError(t, s.StoreSnapshot(ctx, snapAt("team", d, float64(60+d))))
	}
	err = s.StoreSnapshot(ctx, snapAt("team", 2, 99))
	assert.True(t, errors.Is(err, ErrNotMonotonic))

	latest, err := s.LoadSnapshot(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, 64.0, latest.Grade.Score)
	assert.True(t, latest.Timestamp.Equal(base.AddDate(0, 0, 4)))

	h, err := s.History(ctx, "team", 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, 63.0, h[0].Grade.Score)
	assert.Equal(t, 64.0, h[1].Grade.Score)

	all, err := s.History(ctx, "team", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

// TestBadgerStore_PreEpochOrdering verifies the timestamp encoding sorts across the epoch.
func TestBadgerStore_PreEpochOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	early := model.MetricSnapshot{Scope: "old", Timestamp: time.Date(1969, 6, 1, 0, 0, 0, 0, time.UTC)}
	late := model.MetricSnapshot{Scope: "old", Timestamp: time.Date(1971, 6, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.StoreSnapshot(ctx, early))
	require.NoError(t, s.StoreSnapshot(ctx, late))
	assert.ErrorIs(t, s.StoreSnapshot(ctx, early), ErrNotMonotonic)
}

// TestBadgerStore_Anomalies verifies de-duplication and the since filter.
func TestBadgerStore_Anomalies(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	recs := []model.AnomalyRecord{
		anomalyAt("team", "mttr_hours", model.MethodZScore, 2),
		anomalyAt("team", "mttr_hours", model.MethodIsolation, 2),
		anomalyAt("team", "commits", model.MethodZScore, 5),
		anomalyAt("other", "commits", model.MethodZScore, 5),
	}
	n, err := s.AppendAnomalies(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.AppendAnomalies(ctx, recs[:2])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.Anomalies(ctx, "team", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "isolation", got[0].Method)
	assert.Equal(t, "zscore", got[1].Method)

	got, err = s.Anomalies(ctx, "team", base.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "commits", got[0].Metric)
}

// TestBadgerStore_EventsAndPredictor verifies JSON round-trips.
func TestBadgerStore_EventsAndPredictor(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	events, err := s.LoadEvents(ctx, "team")
	require.NoError(t, err)
	assert.Empty(t, events)

	size := 42
	in := []model.CanonicalEvent{{ID: "c1", Scope: "team", Repo: "r", Kind: model.KindCommit, Timestamp: base, Size: &size}}
	require.NoError(t, s.SaveEvents(ctx, "team", in))
	events, err = s.LoadEvents(ctx, "team")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 42, *events[0].Size)

	_, err = s.LoadPredictor(ctx, "team")
	assert.ErrorIs(t, err, ErrNotFound)

	st := &forecast.State{
		Scope:   "team",
		Phase:   forecast.PhaseReady,
		Version: 1,
		Active:  1,
		Versions: []*forecast.Version{{
			Number: 1,
			Score:  0.8,
			Models: map[string]*forecast.MetricModel{
				model.SeriesGradeScore: {Metric: model.SeriesGradeScore, Ridge: &forecast.Ridge{Coef: []float64{0.5}}, Step: 24 * time.Hour},
			},
		}},
	}
	require.NoError(t, s.StorePredictor(ctx, st))
	loaded, err := s.LoadPredictor(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, forecast.PhaseReady, loaded.Phase)
	require.Len(t, loaded.Versions, 1)
	assert.Equal(t, []float64{0.5}, loaded.Versions[0].Models[model.SeriesGradeScore].Ridge.Coef)
}

// TestBadgerStore_DeleteScope verifies per-scope deletion leaves other scopes intact.
func TestBadgerStore_DeleteScope(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	for _, scope := range []string{"a", "ab", "b"} {
		require.NoError(t, s.StoreSnapshot(ctx, snapAt(scope, 0, 50)))
		require.NoError(t, s.StoreSnapshot(ctx, snapAt(scope, 1, 55)))
	}
	_, err := s.AppendAnomalies(ctx, []model.AnomalyRecord{anomalyAt("a", "commits", model.MethodZScore, 1)})
	require.NoError(t, err)
	require.NoError(t, s.StorePredictor(ctx, &forecast.State{Scope: "a", Phase: forecast.PhaseDeprecated}))

	scopes, err := s.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "b"}, scopes)

	require.NoError(t, s.DeleteScope(ctx, "a"))

	scopes, err = s.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "b"}, scopes)

	recs, err := s.Anomalies(ctx, "a", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	st, err := s.LoadPredictor(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, forecast.PhaseDeprecated, st.Phase)

	h, err := s.History(ctx, "ab", 0)
	require.NoError(t, err)
	assert.Len(t, h, 2)
}

// TestBadgerStore_InvalidScope verifies separator bytes cannot forge keys.
func TestBadgerStore_InvalidScope(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	assert.ErrorIs(t, s.StoreSnapshot(ctx, model.MetricSnapshot{Scope: "a\x00b"}), ErrInvalidScope)
	_, err := s.LoadSnapshot(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

// TestOpenBadger_RequiresPath verifies a persistent store needs a directory.
func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(Config{})
	assert.Error(t, err)
}

// TestOpenBadger_Persistent verifies data survives a reopen.
func TestOpenBadger_Persistent(t *testing.T) {
	_ = logger.Init()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.StoreSnapshot(ctx, snapAt("team", 0, 77)))
	require.NoError(t, s.Close())

	s, err = OpenBadger(DefaultConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.LoadSnapshot(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, 77.0, snap.Grade.Score)
}
