package normalize

import (
	"time"

	"github.com/okian/devpulse/pkg/logger"
)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger used for skipped-event warnings.
func WithLogger(l logger.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.log = l
		}
	}
}

// WithLocation sets the zone applied to timestamps that carry none.
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.loc = loc
		}
	}
}

// WithSeenLimit bounds the ids remembered per scope by Ingest; 0 is unbounded.
func WithSeenLimit(limit int) Option {
	return func(n *Normalizer) {
		n.seenLimit = limit
	}
}
