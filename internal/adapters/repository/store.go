// Package repository caches the merged evaluation dataset and the indexes
// built over it.
package repository

import (
	"context"
	"time"

	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/model"
)

// Snapshot is an immutable merged view. Callers must not modify Records.
type Snapshot struct {
	Records   []model.EvaluationRecord
	Index     *analytics.Index
	Remote    int
	LocalOnly int
	BuiltAt   time.Time
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.BuiltAt)
}

// Store holds the latest merged view.
type Store interface {
	// Get returns the current snapshot, ErrNotFound when none was
	// published or ErrExpired when it outlived its TTL.
	Get(ctx context.Context) (*Snapshot, error)
	// Generation identifies the current cache epoch. Invalidate starts a
	// new one.
	Generation() uint64
	// Put publishes records built during generation gen. It is dropped,
	// returning false, when the cache was invalidated in between.
	Put(ctx context.Context, gen uint64, records []model.EvaluationRecord) (*Snapshot, bool)
	Invalidate(ctx context.Context)
}
