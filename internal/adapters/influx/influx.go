// Package influx mirrors snapshots and anomalies into InfluxDB as time series.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/okian/devpulse/internal/domain/model"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

// Measurement names.
const (
	MeasurementSnapshot = "devpulse_snapshot"
	MeasurementAnomaly  = "devpulse_anomaly"
)

// pointWriter is the subset of api.WriteAPIBlocking the sink needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes points synchronously; failures are returned, never retried.
type Sink struct {
	client  influxdb2.Client
	writer  pointWriter
	timeout time.Duration
	log     logger.Logger
}

// Option applies a configuration option to the Sink.
type Option func(*Sink)

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets a custom logger for the sink.
func WithLogger(l logger.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Sink for the given server, org and bucket.
func New(url, token, org, bucket string, opts ...Option) *Sink {
	client := influxdb2.NewClient(url, token)
	s := newSink(client.WriteAPIBlocking(org, bucket), opts...)
	s.client = client
	return s
}

func newSink(w pointWriter, opts ...Option) *Sink {
	s := &Sink{writer: w, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("influx")
	}
	return s
}

// SnapshotPoints converts a snapshot into one point carrying every
// computable series plus the grade.
func SnapshotPoints(snap model.MetricSnapshot) []*write.Point {
	fields := make(map[string]any, len(model.SeriesNames)+1)
	for _, name := range model.SeriesNames {
		if v, ok := snap.Value(name); ok {
			fields[name] = v
		}
	}
	fields["event_count"] = snap.EventCount
	tags := map[string]string{
		"scope":   snap.Scope,
		"partial": fmt.Sprint(snap.Partial),
	}
	if snap.Grade.Letter != "" {
		tags["letter"] = snap.Grade.Letter
	}
	return []*write.Point{influxdb2.NewPoint(MeasurementSnapshot, tags, fields, snap.Timestamp)}
}

// AnomalyPoints converts records into one point each.
func AnomalyPoints(recs []model.AnomalyRecord) []*write.Point {
	points := make([]*write.Point, 0, len(recs))
	for _, r := range recs {
		points = append(points, influxdb2.NewPoint(MeasurementAnomaly,
			map[string]string{
				"scope":    r.Scope,
				"metric":   r.Metric,
				"method":   r.Method,
				"severity": r.Severity.String(),
			},
			map[string]any{
				"value": r.Value,
				"score": r.Score,
			},
			r.Timestamp))
	}
	return points
}

// WriteSnapshot writes the snapshot and any new anomalies in one request.
func (s *Sink) WriteSnapshot(ctx context.Context, snap model.MetricSnapshot, recs []model.AnomalyRecord) error {
	points := append(SnapshotPoints(snap), AnomalyPoints(recs)...)
	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WritePoint(wctx, points...); err != nil {
		metrics.RecordErrorByComponent("influx", "write")
		s.log.Warn(ctx, "influx write failed",
			logger.Scope(snap.Scope),
			logger.Int("points", len(points)),
			logger.Error(err))
		return fmt.Errorf("influx write %s: %w", snap.Scope, err)
	}
	return nil
}

// Ping reports whether the server is healthy.
func (s *Sink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	h, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if h.Status != "pass" {
		return fmt.Errorf("influx health: status %s", h.Status)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
