package remote

import (
	"time"

	"github.com/okian/evalsync/pkg/logger"
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithCollection sets the collection holding evaluations.
func WithCollection(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.collection = name
		}
	}
}

// WithProbeTimeout bounds the connectivity probe. A probe that times out
// counts as offline.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.probeTimeout = d
		}
	}
}

// WithFetchTimeout bounds fetch-all.
func WithFetchTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the time source for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}
