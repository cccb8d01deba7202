package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/metrics"
)

// SnapshotStore publishes snapshots through an atomic pointer so readers
// never take a lock.
type SnapshotStore struct {
	ttl time.Duration
	now func() time.Time

	// mu orders Put against Invalidate.
	mu         sync.Mutex
	generation uint64
	snapshot   atomic.Pointer[Snapshot]
}

// NewSnapshotStore constructs an empty cache. The default TTL is five
// minutes.
func NewSnapshotStore(opts ...Option) *SnapshotStore {
	s := &SnapshotStore{
		ttl: 5 * time.Minute,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SnapshotStore) Get(_ context.Context) (*Snapshot, error) {
	snap := s.snapshot.Load()
	if snap == nil {
		metrics.RecordSnapshotMiss()
		return nil, ErrNotFound
	}
	if s.ttl > 0 && snap.Age(s.now()) > s.ttl {
		metrics.RecordSnapshotMiss()
		return nil, ErrExpired
	}
	metrics.RecordSnapshotHit()
	return snap, nil
}

func (s *SnapshotStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *SnapshotStore) Put(_ context.Context, gen uint64, records []model.EvaluationRecord) (*Snapshot, bool) {
	start := time.Now()
	snap := &Snapshot{
		Records: records,
		Index:   analytics.NewIndex(records),
		BuiltAt: s.now(),
	}
	for _, rec := range records {
		if rec.Provenance == model.ProvenanceLocalOnly {
			snap.LocalOnly++
		} else {
			snap.Remote++
		}
	}
	metrics.RecordSnapshotRebuild(time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return snap, false
	}
	s.snapshot.Store(snap)
	return snap, true
}

func (s *SnapshotStore) Invalidate(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.snapshot.Store(nil)
}
