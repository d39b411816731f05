package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)

// OpError records the failed operation, the error kind used to pick a
// status code, and the underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return e.Op
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of the given kind with no further cause.
func NewKind(op string, kind error) error {
	return &OpError{Op: op, Kind: kind}
}

// Wrap attaches op to err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// WrapKind attaches op and kind to err.
func WrapKind(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}
