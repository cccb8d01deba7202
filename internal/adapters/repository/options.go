package repository

import "time"

// Option applies a configuration option to the SnapshotStore.
type Option func(*SnapshotStore)

// WithTTL sets how long a snapshot is served. Zero keeps snapshots until
// invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(s *SnapshotStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SnapshotStore) {
		if now != nil {
			s.now = now
		}
	}
}
