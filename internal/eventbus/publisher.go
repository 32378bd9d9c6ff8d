package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/outbox"
)

// Publisher routes messages to both delivery modes: the event queue for
// durable subscriptions and the bus for immediate ones.
type Publisher struct {
	queue    outbox.Queue
	registry *Registry
	bus      *Bus
	logger   *slog.Logger
}

func NewPublisher(queue outbox.Queue, registry *Registry, bus *Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		queue:    queue,
		registry: registry,
		bus:      bus,
		logger:   logger,
	}
}

// Enqueue persists the messages that have durable subscribers. Pass a
// transactional context to write them atomically with the state change.
// A message whose dedupe key is already queued is skipped.
func (p *Publisher) Enqueue(ctx context.Context, msgs ...event.Message) error {
	for _, msg := range msgs {
		if !p.registry.HasDurable(msg.Topic) {
			continue
		}
		id, err := p.queue.Enqueue(ctx, msg)
		if errors.Is(err, outbox.ErrDuplicate) {
			p.logger.Info("event already queued", "topic", msg.Topic, "dedupe_key", msg.DedupeKey)
			continue
		}
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", msg.Topic, err)
		}
		p.logger.Debug("event queued", "topic", msg.Topic, "event_id", id)
	}
	return nil
}

// Emit hands the messages to immediate subscribers without waiting.
func (p *Publisher) Emit(ctx context.Context, msgs ...event.Message) {
	if p.bus == nil {
		return
	}
	for _, msg := range msgs {
		p.bus.Emit(ctx, msg)
	}
}

// Publish enqueues, then emits once the durable write succeeded.
func (p *Publisher) Publish(ctx context.Context, msgs ...event.Message) error {
	if err := p.Enqueue(ctx, msgs...); err != nil {
		return err
	}
	p.Emit(ctx, msgs...)
	return nil
}
