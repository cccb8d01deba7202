package dedupe

import (
	"context"
	"sync"
)

// Guard serializes critical sections per key. Two callers holding the same
// key never overlap; different keys proceed independently.
type Guard struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx is done. The returned release must
// be called exactly once.
func (g *Guard) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		g.mu.Lock()
		wait, busy := g.held[key]
		if !busy {
			done := make(chan struct{})
			g.held[key] = done
			g.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					g.mu.Lock()
					delete(g.held, key)
					g.mu.Unlock()
					close(done)
				})
			}, nil
		}
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// InFlight returns the number of keys currently held.
func (g *Guard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
