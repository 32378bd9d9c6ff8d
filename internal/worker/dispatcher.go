package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/outbox"
	"shiptrack/internal/eventbus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_events_processed_total",
		Help: "Events handled successfully and removed from the queue",
	}, []string{"topic"})
	eventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_events_failed_total",
		Help: "Events whose handler failed and were released for retry",
	}, []string{"topic"})
	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatcher_batch_duration_seconds",
		Help:    "Time taken to dispatch one claimed batch",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"topic"})
)

// HandlerSource resolves the composed handler for a topic.
type HandlerSource interface {
	EventHandler(topic event.Topic) (eventbus.Handler, bool)
}

type DispatchResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Dispatcher moves one batch of queued events through their handlers.
// It holds no locks of its own: running several dispatchers at once is
// safe because Claim never hands the same event to two callers.
type Dispatcher struct {
	queue    outbox.Queue
	handlers HandlerSource
	logger   *slog.Logger
}

func NewDispatcher(queue outbox.Queue, handlers HandlerSource, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    queue,
		handlers: handlers,
		logger:   logger,
	}
}

// DispatchEvents claims a batch for topic and runs each event sequentially.
// Failed events are released for a later cycle; there is no in-call retry.
func (d *Dispatcher) DispatchEvents(ctx context.Context, topic event.Topic, opts outbox.ClaimOptions) (DispatchResult, error) {
	handler, ok := d.handlers.EventHandler(topic)
	if !ok {
		return DispatchResult{}, nil
	}

	started := time.Now()
	events, err := d.queue.Claim(ctx, topic, opts.WithDefaults())
	if err != nil {
		return DispatchResult{}, fmt.Errorf("claim %s: %w", topic, err)
	}
	if len(events) == 0 {
		return DispatchResult{}, nil
	}
	defer func() {
		dispatchDuration.WithLabelValues(string(topic)).Observe(time.Since(started).Seconds())
	}()

	var res DispatchResult
	for _, ev := range events {
		if err := handler(ctx, ev); err != nil {
			res.Errors++
			eventsFailed.WithLabelValues(string(topic)).Inc()
			d.logger.Warn("event failed", "topic", topic, "event_id", ev.ID, "attempt", ev.Attempts+1, "max_attempts", ev.MaxAttempts, "error", err)
			if markErr := d.queue.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
				d.logger.Error("failed to mark event as failed", "event_id", ev.ID, "error", markErr)
			}
			continue
		}

		if err := d.queue.MarkCompleted(ctx, []string{ev.ID}); err != nil {
			// The lock expires and the event is redelivered; handlers are idempotent.
			res.Errors++
			d.logger.Error("failed to mark event as completed", "event_id", ev.ID, "error", err)
			continue
		}
		res.Processed++
		eventsProcessed.WithLabelValues(string(topic)).Inc()
	}
	res.Skipped = len(events) - res.Processed

	d.logger.Info("dispatched batch", "topic", topic, "claimed", len(events), "processed", res.Processed, "errors", res.Errors)
	return res, nil
}
