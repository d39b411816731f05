package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/devpulse/internal/domain/forecast"
	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

// Key layout. Every key is "<family>\x00<scope>\x00<suffix>"; timestamps are
// big-endian with the sign bit flipped so byte order matches time order.
var (
	prefixSnapshot  = []byte("snap")
	prefixAnomaly   = []byte("anom")
	prefixEvents    = []byte("evts")
	prefixPredictor = []byte("pred")
)

const sep = 0x00

func scopePrefix(family []byte, scope string) []byte {
	k := make([]byte, 0, len(family)+len(scope)+2)
	k = append(k, family...)
	k = append(k, sep)
	k = append(k, scope...)
	return append(k, sep)
}

func encodeTime(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixNano())^(1<<63))
	return b[:]
}

func snapshotKey(scope string, ts time.Time) []byte {
	return append(scopePrefix(prefixSnapshot, scope), encodeTime(ts)...)
}

func anomalyKey(r model.AnomalyRecord) []byte {
	k := append(scopePrefix(prefixAnomaly, r.Scope), encodeTime(r.Timestamp)...)
	k = append(k, sep)
	k = append(k, r.Metric...)
	k = append(k, sep)
	return append(k, r.Method...)
}

func validScope(scope string) error {
	if scope == "" || strings.IndexByte(scope, sep) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

// badgerLogger adapts logger.Logger to badger's logging interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerStore persists state in an embedded badger database. Values are JSON.
type BadgerStore struct {
	db  *badger.DB
	log logger.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get().Named("badger")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	s := &BadgerStore{db: db, log: log, stop: make(chan struct{}), done: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *BadgerStore) gcLoop(interval time.Duration, ratio float64) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn(context.Background(), "badger value log GC error", logger.Error(err))
				metrics.RecordErrorByComponent("badger", "gc")
			}
		}
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key[:4], err)
	}
	return txn.Set(key, val)
}

// latestKey returns the newest key under prefix, or nil.
func latestKey(txn *badger.Txn, prefix []byte) []byte {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek(append(bytes.Clone(prefix), 0xFF))
	if !it.ValidForPrefix(prefix) {
		return nil
	}
	return it.Item().KeyCopy(nil)
}

func (s *BadgerStore) StoreSnapshot(ctx context.Context, snap model.MetricSnapshot) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := validScope(snap.Scope); err != nil {
		return err
	}
	prefix := scopePrefix(prefixSnapshot, snap.Scope)
	key := snapshotKey(snap.Scope, snap.Timestamp)
	err := s.db.Update(func(txn *badger.Txn) error {
		if last := latestKey(txn, prefix); last != nil && bytes.Compare(key, last) <= 0 {
			return fmt.Errorf("%w: %s at %s", ErrNotMonotonic, snap.Scope, snap.Timestamp.Format(time.RFC3339Nano))
		}
		return setJSON(txn, key, snap)
	})
	if err != nil {
		return err
	}
	metrics.RecordSnapshotPersisted()
	return nil
}

func (s *BadgerStore) LoadSnapshot(ctx context.Context, scope string) (model.MetricSnapshot, error) {
	var snap model.MetricSnapshot
	if err := ctxErr(ctx); err != nil {
		return snap, err
	}
	if err := validScope(scope); err != nil {
		return snap, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		key := latestKey(txn, scopePrefix(prefixSnapshot, scope))
		if key == nil {
			return ErrNotFound
		}
		return getJSON(txn, key, &snap)
	})
	return snap, err
}

func (s *BadgerStore) History(ctx context.Context, scope string, limit int) ([]model.MetricSnapshot, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validScope(scope); err != nil {
		return nil, err
	}
	prefix := scopePrefix(prefixSnapshot, scope)
	var out []model.MetricSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(append(bytes.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) == limit {
				break
			}
			var snap model.MetricSnapshot
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &snap) }); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *BadgerStore) AppendAnomalies(ctx context.Context, recs []model.AnomalyRecord) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	added := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		added = 0
		for _, r := range recs {
			if err := validScope(r.Scope); err != nil {
				return err
			}
			key := anomalyKey(r)
			if _, err := txn.Get(key); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := setJSON(txn, key, r); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *BadgerStore) Anomalies(ctx context.Context, scope string, since time.Time) ([]model.AnomalyRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validScope(scope); err != nil {
		return nil, err
	}
	prefix := scopePrefix(prefixAnomaly, scope)
	var out []model.AnomalyRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		start := prefix
		if !since.IsZero() {
			start = append(bytes.Clone(prefix), encodeTime(since)...)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var r model.AnomalyRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return fmt.Errorf("decode anomaly: %w", err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveEvents(ctx context.Context, scope string, events []model.CanonicalEvent) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := validScope(scope); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, scopePrefix(prefixEvents, scope), events)
	})
}

func (s *BadgerStore) LoadEvents(ctx context.Context, scope string) ([]model.CanonicalEvent, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validScope(scope); err != nil {
		return nil, err
	}
	var events []model.CanonicalEvent
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, scopePrefix(prefixEvents, scope), &events)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return events, err
}

func (s *BadgerStore) StorePredictor(ctx context.Context, st *forecast.State) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("%w: nil predictor state", ErrInvalidScope)
	}
	if err := validScope(st.Scope); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, scopePrefix(prefixPredictor, st.Scope), st)
	})
}

func (s *BadgerStore) LoadPredictor(ctx context.Context, scope string) (*forecast.State, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := validScope(scope); err != nil {
		return nil, err
	}
	st := new(forecast.State)
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, scopePrefix(prefixPredictor, scope), st)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *BadgerStore) DeleteScope(ctx context.Context, scope string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := validScope(scope); err != nil {
		return err
	}
	prefixes := [][]byte{
		scopePrefix(prefixSnapshot, scope),
		scopePrefix(prefixAnomaly, scope),
		scopePrefix(prefixEvents, scope),
	}
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete %q: %w", scope, err)
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) Scopes(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	family := append(bytes.Clone(prefixSnapshot), sep)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = family
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(family); it.ValidForPrefix(family); {
			rest := it.Item().Key()[len(family):]
			end := bytes.IndexByte(rest, sep)
			if end < 0 {
				it.Next()
				continue
			}
			scope := string(rest[:end])
			out = append(out, scope)
			// Skip the rest of this scope's snapshots.
			next := append(bytes.Clone(family), scope...)
			it.Seek(append(next, sep+1))
		}
		return nil
	})
	return out, err
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}
