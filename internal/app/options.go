package service

import (
	"time"

	"github.com/okian/evalsync/internal/adapters/mq/bus"
	"github.com/okian/evalsync/internal/adapters/repository"
	"github.com/okian/evalsync/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for timestamps and ids.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBus sets the event bus that receives engine events.
func WithBus(b *bus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithCache sets the merged-dataset cache.
func WithCache(c repository.Store) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithSyncConcurrency bounds concurrent upserts within one sync pass.
func WithSyncConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.syncConcurrency = n
		}
	}
}

// WithQueueSize sets the intake queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of intake workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithProbeInterval sets the periodic connectivity check. Zero disables it.
func WithProbeInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.probeInterval = d
		}
	}
}

// WithRefreshInterval sets the auto-refresh period. Zero disables it.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.refreshInterval = d
		}
	}
}

// WithAutoSync toggles the pending-data sync run when the remote store
// comes back online.
func WithAutoSync(enabled bool) Option {
	return func(s *Service) {
		s.autoSync = enabled
	}
}
