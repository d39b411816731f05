// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Durations use Go syntax ("15m", "30s", "168h") in files and env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogJSON switches the log handler to JSON output.
	LogJSON bool `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorkerCount bounds concurrent scope recomputes.
	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds pending recompute tasks.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize caps remembered provider event ids per scope; 0 means unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	// CacheTTL is the age after which a cached entry is served stale.
	CacheTTL time.Duration `koanf:"cache_ttl"`
	// RefreshInterval drives the background sweep over configured scopes.
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// FetchTimeout bounds a single repository fetch.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	// FetchRate and FetchBurst throttle calls to the event provider.
	FetchRate  float64 `koanf:"fetch_rate"`
	FetchBurst int     `koanf:"fetch_burst"`
	// FetchConcurrency bounds parallel repository fetches inside one recompute.
	FetchConcurrency int `koanf:"fetch_concurrency"`

	// WindowDays is the rolling metric window.
	WindowDays int `koanf:"window_days"`
	// FailureLookback is how far back a failure merge looks for a prior deploy.
	FailureLookback time.Duration `koanf:"failure_lookback"`
	// MTTRHorizon bounds the search for a fixing merge.
	MTTRHorizon time.Duration `koanf:"mttr_horizon"`
	// LateNightStart and LateNightEnd bound the late-night hours (start inclusive).
	LateNightStart int `koanf:"late_night_start"`
	LateNightEnd   int `koanf:"late_night_end"`

	AnomalyMinPoints     int     `koanf:"anomaly_min_points"`
	AnomalyZThreshold    float64 `koanf:"anomaly_z_threshold"`
	AnomalyContamination float64 `koanf:"anomaly_contamination"`
	// HistoryLimit caps the snapshots fed into detectors and the predictor.
	HistoryLimit int `koanf:"history_limit"`

	PredictorMinSamples int           `koanf:"predictor_min_samples"`
	RetrainNewSamples   int           `koanf:"retrain_new_samples"`
	RetrainInterval     time.Duration `koanf:"retrain_interval"`
	ForecastHorizon     int           `koanf:"forecast_horizon"`
	RegressionTolerance float64       `koanf:"regression_tolerance"`

	// StoragePath selects the badger directory; empty keeps state in memory.
	StoragePath string `koanf:"storage_path"`

	InfluxURL    string `koanf:"influx_url"`
	InfluxToken  string `koanf:"influx_token"`
	InfluxOrg    string `koanf:"influx_org"`
	InfluxBucket string `koanf:"influx_bucket"`

	// Source names the event provider adapter.
	Source string `koanf:"source"`
	// Scopes maps an aggregation scope to the repositories it covers.
	Scopes map[string][]string `koanf:"scopes"`

	// MaxLeaderboardLimit caps GET /v1/leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		WorkerCount:          5,
		QueueSize:            1024,
		DedupeSize:           0,
		CacheTTL:             15 * time.Minute,
		RefreshInterval:      15 * time.Minute,
		FetchTimeout:         30 * time.Second,
		FetchRate:            10,
		FetchBurst:           5,
		FetchConcurrency:     4,
		WindowDays:           28,
		FailureLookback:      14 * 24 * time.Hour,
		MTTRHorizon:          14 * 24 * time.Hour,
		LateNightStart:       22,
		LateNightEnd:         6,
		AnomalyMinPoints:     10,
		AnomalyZThreshold:    2.5,
		AnomalyContamination: 0.1,
		HistoryLimit:         500,
		PredictorMinSamples:  50,
		RetrainNewSamples:    50,
		RetrainInterval:      7 * 24 * time.Hour,
		ForecastHorizon:      14,
		RegressionTolerance:  0.1,
		Source:               "synthetic",
		Scopes: map[string][]string{
			"demo": {"demo/api", "demo/web"},
		},
		MaxLeaderboardLimit: 100,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.CacheTTL <= 0:
		return fmt.Errorf("%w: cache_ttl must be positive", ErrInvalidConfig)
	case c.FetchTimeout <= 0:
		return fmt.Errorf("%w: fetch_timeout must be positive", ErrInvalidConfig)
	case c.WindowDays < 7:
		return fmt.Errorf("%w: window_days must be at least 7", ErrInvalidConfig)
	case c.LateNightStart < 0 || c.LateNightStart > 23 || c.LateNightEnd < 0 || c.LateNightEnd > 23:
		return fmt.Errorf("%w: late night hours must be within 0-23", ErrInvalidConfig)
	case c.AnomalyMinPoints < 3:
		return fmt.Errorf("%w: anomaly_min_points must be at least 3", ErrInvalidConfig)
	case c.AnomalyContamination <= 0 || c.AnomalyContamination >= 0.5:
		return fmt.Errorf("%w: anomaly_contamination must be in (0, 0.5)", ErrInvalidConfig)
	case c.PredictorMinSamples < 10:
		return fmt.Errorf("%w: predictor_min_samples must be at least 10", ErrInvalidConfig)
	case c.ForecastHorizon <= 0:
		return fmt.Errorf("%w: forecast_horizon must be positive", ErrInvalidConfig)
	}
	for scope, repos := range c.Scopes {
		if scope == "" || len(repos) == 0 {
			return fmt.Errorf("%w: scope %q needs at least one repository", ErrInvalidConfig, scope)
		}
	}
	return nil
}
