package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/notification"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

type trigger struct {
	Workflow string
	ObjectID string
	Users    []string
	Data     map[string]any
	Opts     notification.TriggerOptions
}

type spyNotifier struct {
	mu        sync.Mutex
	triggers  []trigger
	cancelled []string
	fail      map[string]error
}

func (s *spyNotifier) TriggerForObject(_ context.Context, workflow, _, objectID string, data map[string]any, opts notification.TriggerOptions) notification.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[objectID]; err != nil {
		return notification.Failed(err)
	}
	s.triggers = append(s.triggers, trigger{Workflow: workflow, ObjectID: objectID, Data: data, Opts: opts})
	return notification.Result{Success: true, WorkflowRunID: "run-" + objectID}
}

func (s *spyNotifier) TriggerForUsers(_ context.Context, workflow string, users []string, data map[string]any, opts notification.TriggerOptions) notification.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger{Workflow: workflow, Users: users, Data: data, Opts: opts})
	return notification.Result{Success: true}
}

func (s *spyNotifier) CancelWorkflow(_ context.Context, workflow, key string) notification.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, workflow+"@"+key)
	return notification.Result{Success: true}
}

func (s *spyNotifier) sent() []trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trigger, len(s.triggers))
	copy(out, s.triggers)
	return out
}

type stubOrders map[string]order.Order

func (o stubOrders) GetOrder(_ context.Context, id string) (*order.Order, error) {
	ord, ok := o[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &ord, nil
}

type stubShipments []shipment.Snapshot

func (s stubShipments) ListByOrder(_ context.Context, orderID string) ([]shipment.Snapshot, error) {
	var out []shipment.Snapshot
	for _, sh := range s {
		if sh.PONumber == orderID {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s stubShipments) GetSnapshot(_ context.Context, id string) (*shipment.Snapshot, error) {
	for _, sh := range s {
		if sh.ShipmentID == id {
			return &sh, nil
		}
	}
	return nil, shipment.ErrNotFound
}

type recordingProducer struct {
	keys   []string
	values [][]byte
	fail   error
}

func (p *recordingProducer) SendMessage(_ context.Context, key, value []byte) error {
	if p.fail != nil {
		return p.fail
	}
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return nil
}

type countingCache struct {
	invalidated []string
}

func (c *countingCache) Invalidate(_ context.Context, orderID string) error {
	c.invalidated = append(c.invalidated, orderID)
	return nil
}

func ship(id string, status shipment.Status) shipment.Snapshot {
	return shipment.Snapshot{
		ShipmentID:     id,
		TrackingNumber: "1Z" + id,
		Status:         status,
		Carrier:        "ups",
		PONumber:       "PO-1",
		LastChecked:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func queued(t *testing.T, id string, topic event.Topic, prev *shipment.Snapshot, cur shipment.Snapshot) event.Queued {
	t.Helper()
	msg, err := event.NewMessage(topic, shipment.ChangePayload{Previous: prev, Current: cur, ObservedAt: cur.LastChecked})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	return event.Queued{Message: msg, ID: id}
}
