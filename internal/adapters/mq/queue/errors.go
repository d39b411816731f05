package queue

import "errors"

// ErrFull is reported by producers whose task was rejected.
var ErrFull = errors.New("queue full or closed")
