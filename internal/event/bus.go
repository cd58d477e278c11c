// Package event provides the in-process event bus that plugins use to
// announce scan progress, device changes and control actions.
package event

import (
	"context"
	"sync"

	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var _ plugin.EventBus = (*Bus)(nil)

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayscan_events_published_total",
			Help: "Events published on the internal bus by topic.",
		},
		[]string{"topic"},
	)
	handlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayscan_event_handler_panics_total",
			Help: "Event handlers that panicked, by topic.",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(eventsPublished, handlerPanics)
}

// Bus is an in-memory event bus. Publish runs handlers in the caller's
// goroutine; PublishAsync runs each handler in its own goroutine and Wait
// blocks until those have finished.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	allSubs  []handlerEntry
	nextID   uint64
	inflight sync.WaitGroup
	logger   *zap.Logger
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
	}
}

// matching returns topic handlers followed by catch-all handlers.
func (b *Bus) matching(topic string) []plugin.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]plugin.EventHandler, 0, len(b.handlers[topic])+len(b.allSubs))
	for _, e := range b.handlers[topic] {
		out = append(out, e.handler)
	}
	for _, e := range b.allSubs {
		out = append(out, e.handler)
	}
	return out
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	eventsPublished.WithLabelValues(event.Topic).Inc()
	for _, h := range b.matching(event.Topic) {
		b.safeCall(ctx, h, event)
	}
	return nil
}

// PublishAsync dispatches an event to all matching handlers without
// waiting for them. Handlers get a context detached from ctx's
// cancellation so a finished HTTP request does not abort them.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	eventsPublished.WithLabelValues(event.Topic).Inc()
	hctx := context.WithoutCancel(ctx)
	for _, h := range b.matching(event.Topic) {
		b.inflight.Add(1)
		go func(h plugin.EventHandler) {
			defer b.inflight.Done()
			b.safeCall(hctx, h, event)
		}(h)
	}
}

// Wait blocks until every handler started by PublishAsync has returned or
// ctx is done.
func (b *Bus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
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
		if len(b.handlers[topic]) == 0 {
			delete(b.handlers, topic)
		}
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

// without returns entries minus id. The result never aliases entries so a
// concurrent snapshot taken before the removal stays intact.
func without(entries []handlerEntry, id uint64) []handlerEntry {
	out := make([]handlerEntry, 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
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
