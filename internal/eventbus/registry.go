package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"shiptrack/internal/domain/event"

	"golang.org/x/sync/errgroup"
)

// Mode selects how a subscription receives events.
type Mode int

const (
	// Durable subscriptions are fed by the Dispatcher from the event queue.
	Durable Mode = iota
	// Immediate subscriptions run in-process through the Bus.
	Immediate
)

func (m Mode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "durable"
}

// Subscription is one independent reaction to a topic. Handlers sharing a
// Phase run concurrently; lower phases finish before higher ones start.
type Subscription struct {
	Name    string
	Mode    Mode
	Phase   int
	Handler Handler
}

type regEntry struct {
	id  uint64
	sub Subscription
}

// Registry maps topics to subscriptions in both delivery modes.
type Registry struct {
	mu      sync.RWMutex
	bus     *Bus
	durable map[event.Topic][]regEntry
	nextID  uint64
	logger  *slog.Logger
}

func NewRegistry(bus *Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bus:     bus,
		durable: make(map[event.Topic][]regEntry),
		logger:  logger,
	}
}

// Subscribe registers sub for topic and returns a function that removes it.
func (r *Registry) Subscribe(topic event.Topic, sub Subscription) (func(), error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("subscribe %q: unknown topic", topic)
	}
	if sub.Handler == nil {
		return nil, fmt.Errorf("subscribe %q to %s: nil handler", sub.Name, topic)
	}
	if sub.Name == "" {
		sub.Name = "unnamed"
	}

	if sub.Mode == Immediate {
		if r.bus == nil {
			return nil, fmt.Errorf("subscribe %q to %s: immediate mode requires a bus", sub.Name, topic)
		}
		return r.bus.on(topic, sub.Name, sub.Handler), nil
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.durable[topic] = append(r.durable[topic], regEntry{id: id, sub: sub})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			entries := r.durable[topic]
			for i, e := range entries {
				if e.id == id {
					r.durable[topic] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// HasDurable reports whether any durable subscription exists for topic.
func (r *Registry) HasDurable(topic event.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.durable[topic]) > 0
}

// Topics returns the topics with durable subscribers in vocabulary order.
func (r *Registry) Topics() []event.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []event.Topic
	for _, t := range event.Topics {
		if len(r.durable[t]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// EventHandler composes the durable subscriptions of topic into one
// handler. Every subscription runs even when a sibling fails; failures are
// logged and joined into the returned error once all of them settled.
func (r *Registry) EventHandler(topic event.Topic) (Handler, bool) {
	r.mu.RLock()
	entries := make([]regEntry, len(r.durable[topic]))
	copy(entries, r.durable[topic])
	r.mu.RUnlock()
	if len(entries) == 0 {
		return nil, false
	}

	phases := groupByPhase(entries)
	return func(ctx context.Context, ev event.Queued) error {
		var (
			mu   sync.Mutex
			errs []error
		)
		for _, phase := range phases {
			var g errgroup.Group
			for _, sub := range phase {
				g.Go(func() error {
					if err := safeCall(ctx, sub.Handler, ev); err != nil {
						handlerFailures.WithLabelValues(string(topic), sub.Name).Inc()
						r.logger.Error("subscription failed", "topic", topic, "subscription", sub.Name, "event_id", ev.ID, "attempt", ev.Attempts+1, "error", err)
						mu.Lock()
						errs = append(errs, fmt.Errorf("%s: %w", sub.Name, err))
						mu.Unlock()
					}
					return nil
				})
			}
			_ = g.Wait()
		}
		return errors.Join(errs...)
	}, true
}

func groupByPhase(entries []regEntry) [][]Subscription {
	byPhase := make(map[int][]Subscription)
	var order []int
	for _, e := range entries {
		if _, ok := byPhase[e.sub.Phase]; !ok {
			order = append(order, e.sub.Phase)
		}
		byPhase[e.sub.Phase] = append(byPhase[e.sub.Phase], e.sub)
	}
	sort.Ints(order)
	out := make([][]Subscription, 0, len(order))
	for _, p := range order {
		out = append(out, byPhase[p])
	}
	return out
}
