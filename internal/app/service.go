// Package service is the reconciliation engine: it merges the remote and
// local evaluation sets, pushes local records to the remote store,
// consolidates remote duplicates and serves the analytics and intervention
// plan views built over the merged data.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/adapters/mq/bus"
	"github.com/okian/evalsync/internal/adapters/mq/queue"
	"github.com/okian/evalsync/internal/adapters/mq/worker"
	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/internal/adapters/repository"
	"github.com/okian/evalsync/internal/domain/dedupe"
	"github.com/okian/evalsync/internal/domain/identity"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
)

// Remote is the remote store gateway the engine reads from and writes to.
type Remote interface {
	Status() remote.Status
	Connected() bool
	CheckConnection(ctx context.Context) remote.Status
	OnStatusChange(fn func(remote.Status)) func()
	FetchAll(ctx context.Context) ([]model.EvaluationRecord, error)
	Get(ctx context.Context, id string) (model.EvaluationRecord, bool, error)
	Upsert(ctx context.Context, id string, data map[string]any, merge bool) error
	Delete(ctx context.Context, id string) error
}

// Local is the device-local store.
type Local interface {
	ReadAll(ctx context.Context) ([]localstore.Entry, error)
	SaveSubmission(ctx context.Context, rec model.EvaluationRecord) (localstore.SavedKeys, error)
	MarkSynced(ctx context.Context, e localstore.Entry, remoteID string, at time.Time) error
	RemoveRecord(ctx context.Context, id string) (int, error)
	Backup(ctx context.Context, records []model.EvaluationRecord, source string) (types.BackupResult, error)
}

// Service implements Engine.
type Service struct {
	mu sync.Mutex

	// Collaborators
	remote   Remote
	local    Local
	resolver *identity.Resolver
	guard    *dedupe.Guard
	bus      *bus.Bus
	cache    repository.Store
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	// Configuration
	syncConcurrency int
	queueSize       int
	workerCount     int
	probeInterval   time.Duration
	refreshInterval time.Duration
	autoSync        bool

	// Refresh coalescing
	flight     singleflight.Group
	refreshing atomic.Bool
	syncing    atomic.Bool

	// bgMu orders background goroutine spawns against Stop's wg.Wait.
	bgMu    sync.Mutex
	running bool

	// State
	started     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()

	logger logger.Logger
	now    func() time.Time
}

// New constructs a Service over the given stores.
func New(r Remote, l Local, opts ...Option) (*Service, error) {
	if r == nil || l == nil {
		return nil, ErrNilStore
	}
	s := &Service{
		remote:          r,
		local:           l,
		guard:           dedupe.NewGuard(),
		syncConcurrency: 4,
		queueSize:       1024,
		workerCount:     2,
		probeInterval:   30 * time.Second,
		refreshInterval: 2 * time.Minute,
		autoSync:        true,
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.bus == nil {
		s.bus = bus.New(bus.WithClock(s.now))
	}
	if s.cache == nil {
		s.cache = repository.NewSnapshotStore(repository.WithClock(s.now))
	}
	s.resolver = identity.New(identity.WithClock(s.now))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	return s, nil
}

// Bus returns the event bus the engine publishes to.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Resolver returns the identity resolver used for ids and comparison keys.
func (s *Service) Resolver() *identity.Resolver { return s.resolver }

// Start probes the remote store, starts the intake workers and the
// background loops. A stopped service cannot be restarted.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting evaluation service...")

	s.unsubscribe = s.remote.OnStatusChange(func(st remote.Status) {
		s.onStatusChange(ctx, st)
	})
	st := s.remote.CheckConnection(ctx)

	s.pool = worker.NewPool(s.workerCount, s.queue, s)
	s.pool.Start(ctx)

	if s.probeInterval > 0 {
		s.loop(ctx, s.probeInterval, func(ctx context.Context) {
			s.remote.CheckConnection(ctx)
		})
	}
	if s.refreshInterval > 0 {
		s.loop(ctx, s.refreshInterval, s.scheduledRefresh)
	}

	s.started = true
	s.bgMu.Lock()
	s.running = true
	s.bgMu.Unlock()
	s.logger.Info(ctx, "evaluation service started",
		logger.String("connection", string(st.State)),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

// Stop stops the loops and drains the intake queue.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(ctx, "stopping evaluation service...")
	s.bgMu.Lock()
	s.running = false
	s.bgMu.Unlock()

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "intake workers did not drain", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "evaluation service stopped")
}

// loop runs fn every interval until Stop or ctx ends.
func (s *Service) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (s *Service) onStatusChange(ctx context.Context, st remote.Status) {
	s.bus.Emit(ctx, bus.TopicConnectionChanged, st)
	if st.State != remote.StateConnected || !s.autoSync {
		return
	}
	// Status listeners may fire while Start holds s.mu, so s.mu is not
	// taken here. Once Stop has cleared running under bgMu, no Add can race
	// its Wait.
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if !s.running || !s.syncing.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.syncing.Store(false)
		summary := s.SyncPendingData(ctx)
		s.logger.Info(ctx, "connection restored, pending data synced",
			logger.Int("synced", summary.Synced),
			logger.Int("skipped", summary.Skipped),
			logger.Int("errors", summary.Errors),
		)
	}()
}

// GetConnectionStatus returns the last observed connectivity state.
func (s *Service) GetConnectionStatus() remote.Status {
	return s.remote.Status()
}

// CheckConnection probes the remote store now.
func (s *Service) CheckConnection(ctx context.Context) remote.Status {
	return s.remote.CheckConnection(ctx)
}

// ensureConnected probes when the last observation was not connected.
func (s *Service) ensureConnected(ctx context.Context) bool {
	if s.remote.Connected() {
		return true
	}
	return s.remote.CheckConnection(ctx).State == remote.StateConnected
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	stats := types.Stats{
		ConnectionState: string(s.remote.Status().State),
		QueueSize:       s.queue.Len(ctx),
		QueueCapacity:   s.queue.Cap(),
	}
	if pool != nil {
		stats.ActiveWorkers = pool.Size()
		stats.ProcessedIntakes = pool.Processed()
		stats.FailedIntakes = pool.Failed()
	}
	if snap, err := s.cache.Get(ctx); err == nil {
		stats.Evaluations = len(snap.Records)
		stats.LocalOnly = snap.LocalOnly
		stats.SnapshotAgeMS = snap.Age(s.now()).Milliseconds()
	}

	metrics.UpdateQueueSize(stats.QueueSize)
	return stats
}
