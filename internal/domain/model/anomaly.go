package model

import (
	"fmt"
	"time"
)

// Detection methods.
const (
	MethodZScore        = "zscore"
	MethodIsolation     = "isolation"
	MethodDecomposition = "decomposition"
)

// Severity is the number of methods that flagged the same point.
type Severity int

// Severity levels.
const (
	SeverityLow    Severity = 1
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// AnomalyRecord is one (point, method) detection. Records are append-only.
type AnomalyRecord struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope"`
	Metric     string    `json:"metric"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Score      float64   `json:"score"`
	Method     string    `json:"method"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

// Key identifies a detection independently of when it was made.
func (r AnomalyRecord) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s", r.Scope, r.Metric, r.Timestamp.UnixNano(), r.Method)
}
