package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
)

// Default bounds and collection.
const (
	DefaultCollection   = "evaluations"
	DefaultProbeTimeout = 5 * time.Second
	DefaultFetchTimeout = 15 * time.Second
)

// State is the connectivity state of the remote store.
type State string

const (
	StateChecking  State = "checking"
	StateConnected State = "connected"
	StateOffline   State = "offline"
	StateError     State = "error"
)

// Status is a connectivity snapshot.
type Status struct {
	State       State     `json:"status"`
	Initialized bool      `json:"initialized"`
	Timestamp   time.Time `json:"timestamp"`
	LastError   string    `json:"lastError,omitempty"`
}

// Gateway reads and writes the evaluation collection and tracks whether
// the remote store is reachable. Listeners are told about state changes.
type Gateway struct {
	store        DocumentStore
	collection   string
	probeTimeout time.Duration
	fetchTimeout time.Duration
	logger       logger.Logger
	now          func() time.Time

	mu        sync.RWMutex
	status    Status
	listeners map[uint64]func(Status)
	nextID    uint64
}

// NewGateway wraps store. The gateway starts in the checking state.
func NewGateway(store DocumentStore, opts ...Option) *Gateway {
	g := &Gateway{
		store:        store,
		collection:   DefaultCollection,
		probeTimeout: DefaultProbeTimeout,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		listeners:    make(map[uint64]func(Status)),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.Get().Named("remote")
	}
	g.status = Status{State: StateChecking, Timestamp: g.now()}
	metrics.UpdateConnectionState(string(StateChecking))
	return g
}

// Collection returns the collection name.
func (g *Gateway) Collection() string { return g.collection }

// Status returns the current connectivity snapshot.
func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Connected reports whether the last observation found the store reachable.
func (g *Gateway) Connected() bool {
	return g.Status().State == StateConnected
}

// OnStatusChange registers fn for state changes and returns a function that
// unregisters it.
func (g *Gateway) OnStatusChange(fn func(Status)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

// CheckConnection probes the store within the probe timeout. Permission
// denied means the store answered, so it counts as connected.
func (g *Gateway) CheckConnection(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	start := time.Now()
	result, err := g.store.Probe(ctx, g.collection)
	metrics.RecordRemoteOperation(OpProbe, msSince(start))

	switch result {
	case ProbeOK:
		return g.transition(ctx, StateConnected, nil)
	case ProbePermissionDenied:
		g.logger.Warn(ctx, "probe denied, treating store as reachable", logger.Error(err))
		return g.transition(ctx, StateConnected, nil)
	default:
		if err == nil {
			err = ErrUnreachable
		}
		metrics.RecordRemoteError(OpProbe, Classify(err))
		return g.transition(ctx, StateOffline, err)
	}
}

// FetchAll returns every evaluation in the collection, annotated with its
// document id. Documents that do not normalize are quarantined: logged,
// counted and left out.
func (g *Gateway) FetchAll(ctx context.Context) ([]model.EvaluationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
	defer cancel()

	start := time.Now()
	docs, err := g.store.FetchAll(ctx, g.collection)
	metrics.RecordRemoteOperation(OpFetchAll, msSince(start))
	if err != nil {
		g.fail(ctx, OpFetchAll, "", err)
		return nil, err
	}
	g.succeed(ctx)

	out := make([]model.EvaluationRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := model.FromDocument(doc.ID, doc.Data)
		if err != nil {
			metrics.RecordQuarantinedDocument()
			g.logger.Warn(ctx, "quarantining remote document",
				logger.String("id", doc.ID),
				logger.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get reads one evaluation. A document that exists but does not normalize
// is reported as an error so callers never overwrite what they cannot read.
func (g *Gateway) Get(ctx context.Context, id string) (model.EvaluationRecord, bool, error) {
	start := time.Now()
	doc, found, err := g.store.Get(ctx, g.collection, id)
	metrics.RecordRemoteOperation(OpGet, msSince(start))
	if err != nil {
		g.fail(ctx, OpGet, id, err)
		return model.EvaluationRecord{}, false, err
	}
	g.succeed(ctx)
	if !found {
		return model.EvaluationRecord{}, false, nil
	}
	rec, err := model.FromDocument(doc.ID, doc.Data)
	if err != nil {
		return model.EvaluationRecord{}, true, fmt.Errorf("read %s: %w", id, err)
	}
	return rec, true, nil
}

// Upsert writes data under id, merging into an existing document when
// merge is set.
func (g *Gateway) Upsert(ctx context.Context, id string, data map[string]any, merge bool) error {
	start := time.Now()
	err := g.store.Upsert(ctx, g.collection, id, data, merge)
	metrics.RecordRemoteOperation(OpUpsert, msSince(start))
	if err != nil {
		g.fail(ctx, OpUpsert, id, err)
		return err
	}
	g.succeed(ctx)
	return nil
}

// Delete removes the document id.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := g.store.Delete(ctx, g.collection, id)
	metrics.RecordRemoteOperation(OpDelete, msSince(start))
	if err != nil {
		g.fail(ctx, OpDelete, id, err)
		return err
	}
	g.succeed(ctx)
	return nil
}

// Close releases the underlying store.
func (g *Gateway) Close() error { return g.store.Close() }

// fail records err and moves to offline when the store could not be
// reached. Permission errors leave the state alone.
func (g *Gateway) fail(ctx context.Context, op, id string, err error) {
	class := Classify(err)
	metrics.RecordRemoteError(op, class)
	g.logger.Warn(ctx, "remote operation failed",
		logger.String("op", op),
		logger.String("id", id),
		logger.String("class", class),
		logger.Error(err),
	)
	switch class {
	case ClassUnreachable:
		g.transition(ctx, StateOffline, err)
	case ClassPermissionDenied, ClassNotFound, ClassContention:
	default:
		if !errors.Is(err, context.Canceled) {
			g.transition(ctx, StateError, err)
		}
	}
}

// succeed marks the store reachable after any successful call.
func (g *Gateway) succeed(ctx context.Context) {
	if !g.Connected() {
		g.transition(ctx, StateConnected, nil)
	}
}

func (g *Gateway) transition(ctx context.Context, state State, err error) Status {
	g.mu.Lock()
	prev := g.status
	next := Status{State: state, Initialized: true, Timestamp: g.now()}
	if err != nil {
		next.LastError = err.Error()
	}
	g.status = next
	var notify []func(Status)
	if prev.State != state {
		notify = make([]func(Status), 0, len(g.listeners))
		for _, fn := range g.listeners {
			notify = append(notify, fn)
		}
	}
	g.mu.Unlock()

	if prev.State == state {
		return next
	}
	metrics.UpdateConnectionState(string(state))
	metrics.RecordConnectionChange()
	g.logger.Info(ctx, "connection state changed",
		logger.String("from", string(prev.State)),
		logger.String("to", string(state)),
	)
	for _, fn := range notify {
		g.call(ctx, fn, next)
	}
	return next
}

func (g *Gateway) call(ctx context.Context, fn func(Status), s Status) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error(ctx, "status listener panicked", logger.Any("panic", r))
		}
	}()
	fn(s)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
