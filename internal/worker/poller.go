package worker

import (
	"context"
	"log/slog"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/outbox"
)

// TopicLister reports which topics currently have durable subscribers.
type TopicLister interface {
	Topics() []event.Topic
}

// Poller drives the dispatcher on a fixed interval. It is one possible
// scheduler; anything that calls DispatchEvents repeatedly works.
type Poller struct {
	dispatcher *Dispatcher
	topics     TopicLister
	interval   time.Duration
	opts       outbox.ClaimOptions
	logger     *slog.Logger
}

func NewPoller(dispatcher *Dispatcher, topics TopicLister, interval time.Duration, opts outbox.ClaimOptions, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		dispatcher: dispatcher,
		topics:     topics,
		interval:   interval,
		opts:       opts,
		logger:     logger,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval, "topics", p.topics.Topics())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick dispatches one batch per topic. A full batch is drained again
// right away so a backlog does not wait for the next tick.
func (p *Poller) Tick(ctx context.Context) {
	opts := p.opts.WithDefaults()
	for _, topic := range p.topics.Topics() {
		for ctx.Err() == nil {
			res, err := p.dispatcher.DispatchEvents(ctx, topic, opts)
			if err != nil {
				p.logger.Error("failed to dispatch batch", "topic", topic, "error", err)
				break
			}
			if res.Processed+res.Skipped < opts.BatchSize || res.Processed == 0 {
				break
			}
		}
	}
}
