package model

import "errors"

// Error taxonomy shared by the engine. Wrap with fmt.Errorf("...: %w", err).
var (
	// ErrDataFetchPartial marks a result built from a subset of repositories.
	ErrDataFetchPartial = errors.New("data fetch partial")
	// ErrDataInsufficient marks a metric with no usable input.
	ErrDataInsufficient = errors.New("insufficient data")
	// ErrComputation marks a numerical failure inside one metric or model.
	ErrComputation = errors.New("computation error")
	// ErrStaleServed marks a cached value served past its TTL.
	ErrStaleServed = errors.New("stale value served")
)
