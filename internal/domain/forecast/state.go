package forecast

import (
	"fmt"
	"time"
)

// Phase is a predictor lifecycle state.
type Phase string

// Predictor phases.
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseTraining      Phase = "training"
	PhaseReady         Phase = "ready"
	PhaseRetraining    Phase = "retraining"
	PhaseDeprecated    Phase = "deprecated"
)

// transitions lists the allowed phase changes. Training and Retraining may
// fall back to where they came from when a fit fails.
var transitions = map[Phase][]Phase{
	PhaseUninitialized: {PhaseTraining, PhaseDeprecated},
	PhaseTraining:      {PhaseReady, PhaseUninitialized, PhaseDeprecated},
	PhaseReady:         {PhaseRetraining, PhaseDeprecated},
	PhaseRetraining:    {PhaseReady, PhaseDeprecated},
	PhaseDeprecated:    {},
}

// CanTransition reports whether from → to is a legal phase change.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Version is one trained model generation. Versions are never mutated once
// recorded.
type Version struct {
	Number    int                     `json:"number"`
	TrainedAt time.Time               `json:"trained_at"`
	Samples   int                     `json:"samples"`
	Score     float64                 `json:"score"`
	Models    map[string]*MetricModel `json:"models"`
}

// State is the learning state of one scope.
type State struct {
	Scope               string     `json:"scope"`
	Phase               Phase      `json:"phase"`
	Version             int        `json:"version"`
	Active              int        `json:"active"`
	Versions            []*Version `json:"versions,omitempty"`
	TrainingSampleCount int        `json:"training_sample_count"`
	LastTrainedAt       time.Time  `json:"last_trained_at"`
	LastSampleAt        time.Time  `json:"last_sample_at"`
	EvaluationScore     float64    `json:"evaluation_score"`
	LastError           string     `json:"last_error,omitempty"`
}

func (s *State) move(to Phase) error {
	if !CanTransition(s.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// ActiveVersion returns the promoted version, or nil before the first fit.
func (s *State) ActiveVersion() *Version {
	return s.version(s.Active)
}

func (s *State) version(n int) *Version {
	for _, v := range s.Versions {
		if v.Number == n {
			return v
		}
	}
	return nil
}

// clone copies the state header; versions are shared since they are immutable.
func (s *State) clone() *State {
	c := *s
	c.Versions = append([]*Version(nil), s.Versions...)
	return &c
}

// RetrainPolicy decides when a Ready model is refit.
type RetrainPolicy struct {
	NewSamples int
	Interval   time.Duration
}

// DefaultRetrainPolicy retrains after 50 new samples or 7 days.
func DefaultRetrainPolicy() RetrainPolicy {
	return RetrainPolicy{NewSamples: 50, Interval: 7 * 24 * time.Hour}
}

// Due reports whether a retrain is due, whichever condition comes first.
func (p RetrainPolicy) Due(newSamples int, elapsed time.Duration) bool {
	return newSamples >= p.NewSamples || elapsed >= p.Interval
}

// LearningStatus is the externally visible summary of a State.
type LearningStatus struct {
	Scope           string    `json:"scope"`
	Phase           Phase     `json:"phase"`
	Version         int       `json:"version"`
	Active          int       `json:"active"`
	Samples         int       `json:"samples"`
	LastTrainedAt   time.Time `json:"last_trained_at,omitempty"`
	EvaluationScore float64   `json:"evaluation_score"`
	Metrics         []string  `json:"metrics,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// Status summarises s.
func (s *State) Status() LearningStatus {
	st := LearningStatus{
		Scope:           s.Scope,
		Phase:           s.Phase,
		Version:         s.Version,
		Active:          s.Active,
		Samples:         s.TrainingSampleCount,
		LastTrainedAt:   s.LastTrainedAt,
		EvaluationScore: s.EvaluationScore,
		LastError:       s.LastError,
	}
	if v := s.ActiveVersion(); v != nil {
		st.Metrics = v.metricNames()
	}
	return st
}
