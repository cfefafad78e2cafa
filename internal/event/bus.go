// Package event provides an in-memory implementation of the plugin.EventBus interface.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var _ plugin.EventBus = (*Bus)(nil)

// slowHandler is how long a synchronous handler may run before it is
// reported. Synchronous handlers run on the ingest goroutine.
const slowHandler = 50 * time.Millisecond

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "event",
		Name:      "published_total",
		Help:      "Events published by topic.",
	}, []string{"topic"})
	handlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "event",
		Name:      "handler_panics_total",
		Help:      "Recovered handler panics by topic.",
	}, []string{"topic"})
	slowHandlers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "event",
		Name:      "slow_handlers_total",
		Help:      "Synchronous handler calls that exceeded the slow threshold.",
	}, []string{"topic"})
)

// Bus is an in-memory event bus. Publish runs handlers in the caller's
// goroutine, in subscription order; PublishAsync runs each handler in its
// own goroutine. A panicking handler is logged and does not affect others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // topic -> handlers
	allSubs  []handlerEntry            // wildcard handlers
	nextID   uint64
	logger   *zap.Logger
	inflight sync.WaitGroup
	now      func() time.Time
}

type handlerEntry struct {
	id      uint64
	handler plugin.EventHandler
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
		now:      time.Now,
	}
}

// Publish dispatches an event synchronously to topic then wildcard handlers.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	event = b.stamp(event)
	eventsPublished.WithLabelValues(event.Topic).Inc()
	for _, h := range b.matching(event.Topic) {
		start := b.now()
		b.safeCall(ctx, h.handler, event)
		if d := b.now().Sub(start); d > slowHandler {
			slowHandlers.WithLabelValues(event.Topic).Inc()
			b.logger.Warn("slow event handler",
				zap.String("topic", event.Topic),
				zap.Uint64("subscription", h.id),
				zap.Duration("took", d),
			)
		}
	}
	return nil
}

// PublishAsync dispatches an event to each matching handler in a goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	event = b.stamp(event)
	eventsPublished.WithLabelValues(event.Topic).Inc()
	for _, h := range b.matching(event.Topic) {
		b.inflight.Add(1)
		go func(h plugin.EventHandler) {
			defer b.inflight.Done()
			b.safeCall(ctx, h, event)
		}(h.handler)
	}
}

// Wait blocks until every handler started by PublishAsync has returned.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// Subscribe registers a handler for a specific topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = without(b.handlers[topic], id)
	}
}

// SubscribeAll registers a handler for all topics. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, id)
	}
}

func (b *Bus) stamp(event plugin.Event) plugin.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	return event
}

// matching copies the handler lists so dispatch runs without the lock held.
func (b *Bus) matching(topic string) []handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]handlerEntry, 0, len(b.handlers[topic])+len(b.allSubs))
	out = append(out, b.handlers[topic]...)
	return append(out, b.allSubs...)
}

func without(entries []handlerEntry, id uint64) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) safeCall(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.WithLabelValues(event.Topic).Inc()
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
