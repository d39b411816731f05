package forecast

import "errors"

var (
	// ErrUnavailable is returned when no Ready model can serve a forecast.
	ErrUnavailable = errors.New("forecast unavailable")
	// ErrUnknownMetric is returned for a metric the active model does not cover.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrInvalidTransition is returned for an illegal phase change.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrDeprecated is returned when a deprecated scope is asked to learn.
	ErrDeprecated = errors.New("predictor deprecated")
	// ErrUnknownVersion is returned when rolling back to a version that was never trained.
	ErrUnknownVersion = errors.New("unknown version")
)
