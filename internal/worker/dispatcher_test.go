package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/outbox"
	"shiptrack/internal/eventbus"
	"shiptrack/internal/infrastructure/memory"
)

func setup(t *testing.T, handler eventbus.Handler) (*Dispatcher, *eventbus.Registry, *memory.Queue) {
	t.Helper()
	q := memory.NewQueue()
	r := eventbus.NewRegistry(eventbus.NewBus(nil), nil)
	if handler != nil {
		if _, err := r.Subscribe(event.TopicShipmentUpdated, eventbus.Subscription{Name: "test", Handler: handler}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	return NewDispatcher(q, r, nil), r, q
}

func enqueue(t *testing.T, q *memory.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue(context.Background(), event.Message{Topic: event.TopicShipmentUpdated, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
}

func TestDispatchWithoutHandlerLeavesQueueAlone(t *testing.T) {
	d, _, q := setup(t, nil)
	enqueue(t, q, 2)

	res, err := d.DispatchEvents(context.Background(), event.TopicShipmentUpdated, outbox.ClaimOptions{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res != (DispatchResult{}) {
		t.Fatalf("expected zero result, got %+v", res)
	}
	if q.Pending(event.TopicShipmentUpdated) != 2 {
		t.Fatal("expected events to stay queued")
	}
	if batch, _ := q.Claim(context.Background(), event.TopicShipmentUpdated, outbox.ClaimOptions{}); len(batch) != 2 {
		t.Fatal("expected events to remain unclaimed")
	}
}

func TestDispatchSuccess(t *testing.T) {
	var calls atomic.Int32
	d, _, q := setup(t, func(context.Context, event.Queued) error {
		calls.Add(1)
		return nil
	})
	enqueue(t, q, 3)

	res, err := d.DispatchEvents(context.Background(), event.TopicShipmentUpdated, outbox.ClaimOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Processed != 3 || res.Skipped != 0 || res.Errors != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls.Load())
	}
	if q.Pending(event.TopicShipmentUpdated) != 0 {
		t.Fatal("expected completed events to leave the queue")
	}
}

func TestDispatchFailureReleasesForRetry(t *testing.T) {
	var calls atomic.Int32
	d, _, q := setup(t, func(_ context.Context, ev event.Queued) error {
		if calls.Add(1) == 1 {
			return errors.New("provider down")
		}
		return nil
	})
	enqueue(t, q, 2)

	res, err := d.DispatchEvents(context.Background(), event.TopicShipmentUpdated, outbox.ClaimOptions{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Processed != 1 || res.Errors != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected no in-call retry, got %d calls", calls.Load())
	}

	batch, _ := q.Claim(context.Background(), event.TopicShipmentUpdated, outbox.ClaimOptions{})
	if len(batch) != 1 || batch[0].Attempts != 1 || batch[0].LastError == "" {
		t.Fatalf("expected failed event back with one attempt, got %+v", batch)
	}
}

func TestDispatchEmptyQueue(t *testing.T) {
	d, _, _ := setup(t, func(context.Context, event.Queued) error { return nil })
	res, err := d.DispatchEvents(context.Background(), event.TopicShipmentUpdated, outbox.ClaimOptions{})
	if err != nil || res != (DispatchResult{}) {
		t.Fatalf("expected empty result, got %+v, %v", res, err)
	}
}

func TestPollerTickDrainsBacklog(t *testing.T) {
	var calls atomic.Int32
	d, r, q := setup(t, func(context.Context, event.Queued) error {
		calls.Add(1)
		return nil
	})
	enqueue(t, q, 7)

	p := NewPoller(d, r, 0, outbox.ClaimOptions{BatchSize: 3}, nil)
	p.Tick(context.Background())

	if calls.Load() != 7 {
		t.Fatalf("expected the whole backlog in one tick, got %d", calls.Load())
	}
	if q.Pending(event.TopicShipmentUpdated) != 0 {
		t.Fatal("expected an empty queue")
	}
}
