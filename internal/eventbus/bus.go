package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shiptrack/internal/domain/event"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventbus_handler_failures_total",
	Help: "Handler invocations that returned an error or panicked",
}, []string{"topic", "subscription"})

// Handler reacts to one event delivery.
type Handler func(ctx context.Context, ev event.Queued) error

type busEntry struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe hub. It holds no global state;
// every instance is independent.
type Bus struct {
	mu       sync.RWMutex
	handlers map[event.Topic][]busEntry
	nextID   uint64
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[event.Topic][]busEntry),
		logger:   logger,
	}
}

// On registers handler for topic and returns a function that removes it.
func (b *Bus) On(topic event.Topic, handler Handler) func() {
	return b.on(topic, "anonymous", handler)
}

func (b *Bus) on(topic event.Topic, name string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], busEntry{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			entries := b.handlers[topic]
			for i, e := range entries {
				if e.id == id {
					b.handlers[topic] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit runs every handler for msg.Topic in its own goroutine and returns
// immediately. Handler errors are logged and never reach the caller.
func (b *Bus) Emit(ctx context.Context, msg event.Message) {
	entries := b.snapshot(msg.Topic)
	if len(entries) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ev := delivery(msg)
	for _, e := range entries {
		go b.invoke(ctx, msg.Topic, e, ev)
	}
}

// EmitAndWait runs every handler and blocks until all of them settled.
// The bus imposes no timeout.
func (b *Bus) EmitAndWait(ctx context.Context, msg event.Message) {
	entries := b.snapshot(msg.Topic)
	if len(entries) == 0 {
		return
	}
	ev := delivery(msg)
	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			b.invoke(ctx, msg.Topic, e, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// HandlerCount returns the number of handlers registered for topic.
func (b *Bus) HandlerCount(topic event.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

func (b *Bus) snapshot(topic event.Topic) []busEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.handlers[topic]
	if len(entries) == 0 {
		return nil
	}
	out := make([]busEntry, len(entries))
	copy(out, entries)
	return out
}

func (b *Bus) invoke(ctx context.Context, topic event.Topic, e busEntry, ev event.Queued) {
	if err := safeCall(ctx, e.handler, ev); err != nil {
		handlerFailures.WithLabelValues(string(topic), e.name).Inc()
		b.logger.Error("event handler failed", "topic", topic, "subscription", e.name, "event_id", ev.ID, "error", err)
	}
}

// safeCall converts a handler panic into an error.
func safeCall(ctx context.Context, h Handler, ev event.Queued) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, ev)
}

func delivery(msg event.Message) event.Queued {
	return event.Queued{
		Message:     msg,
		ID:          uuid.NewString(),
		AvailableAt: time.Now().UTC(),
	}
}
