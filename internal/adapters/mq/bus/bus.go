// Package bus is the in-process publish/subscribe channel between the engine
// and its presentation surfaces.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
)

// Topic names an event stream.
type Topic string

const (
	TopicPatientSelected     Topic = "patient:selected"
	TopicEvaluationSelected  Topic = "evaluation:selected"
	TopicEvaluationsLoaded   Topic = "evaluations:loaded"
	TopicEvaluationsFiltered Topic = "evaluations:filtered"
	TopicEvaluationSaved     Topic = "evaluation:saved"
	TopicPdiGenerated        Topic = "pdi:generated"
	TopicPdiExported         Topic = "pdi:exported"
	TopicAnalyticsUpdated    Topic = "analytics:updated"
	TopicDataSynced          Topic = "data:synced"
	TopicErrorOccurred       Topic = "error:occurred"
	TopicConnectionChanged   Topic = "connection:changed"
)

// Event is one published message.
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler receives events of a topic.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously, in subscription order. A failing
// handler is logged and counted; the remaining handlers still run.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscription
	nextID uint64
	logger logger.Logger
	now    func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[Topic][]subscription),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("bus")
	}
	return b
}

// On subscribes h to topic. The returned function unsubscribes; calling it
// more than once is harmless.
func (b *Bus) On(topic Topic, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Emit publishes payload on topic and returns the delivered event.
func (b *Bus) Emit(ctx context.Context, topic Topic, payload any) Event {
	e := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: b.now(),
		Payload:   payload,
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	metrics.RecordBusEvent(string(topic))
	for _, s := range subs {
		b.deliver(ctx, s.handler, e)
	}
	return e
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordBusListenerFailure(string(e.Topic))
			b.logger.Error(ctx, "event listener failed",
				logger.String("topic", string(e.Topic)),
				logger.String("event_id", e.ID),
				logger.Error(fmt.Errorf("%v", r)),
			)
		}
	}()
	h(ctx, e)
}

// ListenerCount returns the number of handlers subscribed to topic.
func (b *Bus) ListenerCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Topics returns the topics that currently have subscribers.
func (b *Bus) Topics() []Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Topic, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
