package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shiptrack/internal/consumer"
	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
	"shiptrack/internal/infrastructure/memory"
)

type mapCache struct {
	mu          sync.Mutex
	orders      map[string]order.Order
	invalidated int
}

func newMapCache() *mapCache { return &mapCache{orders: make(map[string]order.Order)} }

func (c *mapCache) Get(_ context.Context, id string) (*order.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *mapCache) Set(_ context.Context, o order.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[o.ID] = o
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	c.invalidated++
	return nil
}

type stubCatchUp struct {
	calls []order.Order
	res   consumer.CatchUpResult
	err   error
}

func (s *stubCatchUp) Notify(_ context.Context, ord order.Order) (consumer.CatchUpResult, error) {
	s.calls = append(s.calls, ord)
	return s.res, s.err
}

func seed(t *testing.T, store *memory.ShipmentRepository, statuses ...shipment.Status) {
	t.Helper()
	for i, st := range statuses {
		s := shipment.Snapshot{ShipmentID: string(rune('a' + i)), Status: st, PONumber: "PO-1"}
		if err := store.Upsert(context.Background(), s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
}

func TestOrderSyncRecomputes(t *testing.T) {
	store := memory.NewShipmentRepository()
	seed(t, store, shipment.StatusDelivered, shipment.StatusInTransit)
	cache := newMapCache()
	svc := NewOrderSync(store, store, cache, nil)

	o, err := svc.SyncByShipmentID(context.Background(), "a")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if o.Status != order.StatusPartiallyDelivered || o.Counts.Total != 2 {
		t.Fatalf("unexpected order %+v", o)
	}
	if cache.invalidated != 1 {
		t.Fatalf("expected cache invalidation, got %d", cache.invalidated)
	}

	n, err := svc.SyncAll(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 order resynced, got %d, %v", n, err)
	}
}

func TestOrderSyncKeepsThread(t *testing.T) {
	store := memory.NewShipmentRepository()
	seed(t, store, shipment.StatusPending)
	store.LinkThread(context.Background(), "PO-1", "thread-1")

	o, err := NewOrderSync(store, store, nil, nil).SyncOrder(context.Background(), "PO-1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if o.ThreadID != "thread-1" {
		t.Fatalf("expected thread to survive recompute, got %+v", o)
	}
}

func TestGetOrderReadsThroughCache(t *testing.T) {
	store := memory.NewShipmentRepository()
	seed(t, store, shipment.StatusInTransit)
	NewOrderSync(store, store, nil, nil).SyncOrder(context.Background(), "PO-1")
	cache := newMapCache()
	uc := NewGetOrder(store, cache, nil)

	o, err := uc.Execute(context.Background(), "PO-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := cache.orders["PO-1"]; !ok {
		t.Fatal("expected order to be cached")
	}
	cache.orders["PO-1"] = order.Order{ID: "PO-1", Status: order.StatusException}
	cached, _ := uc.Execute(context.Background(), "PO-1")
	if cached.Status != order.StatusException || o.Status != order.StatusInTransit {
		t.Fatalf("expected second read from cache, got %+v", cached)
	}

	if _, err := uc.Execute(context.Background(), "PO-404"); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLinkThreadRunsCatchUp(t *testing.T) {
	store := memory.NewShipmentRepository()
	seed(t, store, shipment.StatusDelivered)
	auditRepo := memory.NewAuditRepository()
	catchUp := &stubCatchUp{res: consumer.CatchUpResult{Sent: 1}}
	uc := NewLinkThread(store, NewOrderSync(store, store, nil, nil), catchUp, auditRepo, nil, nil)
	ctx := context.Background()

	res, err := uc.Execute(ctx, "PO-1", "thread-1")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if res.Order.ThreadID != "thread-1" || res.Order.Status != order.StatusDelivered || res.CatchUp.Sent != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(catchUp.calls) != 1 || catchUp.calls[0].ThreadID != "thread-1" {
		t.Fatalf("expected catch-up with linked order, got %+v", catchUp.calls)
	}
	if ok, _ := auditRepo.HasAction(ctx, audit.Query{EntityType: audit.EntityOrder, EntityID: "PO-1", Action: audit.ActionThreadLinked}); !ok {
		t.Fatal("expected thread link to be audited")
	}

	again, err := uc.Execute(ctx, "PO-1", "thread-1")
	if err != nil || !again.AlreadyLinked {
		t.Fatalf("expected relink to be a no-op, got %+v, %v", again, err)
	}
	if len(catchUp.calls) != 1 {
		t.Fatal("expected no second catch-up")
	}
}

func TestLinkThreadReportsPartialCatchUp(t *testing.T) {
	store := memory.NewShipmentRepository()
	catchUp := &stubCatchUp{res: consumer.CatchUpResult{Failed: 1}, err: errors.New("provider down")}
	uc := NewLinkThread(store, NewOrderSync(store, store, nil, nil), catchUp, memory.NewAuditRepository(), nil, nil)

	res, err := uc.Execute(context.Background(), "PO-2", "thread-2")
	if err == nil || res == nil {
		t.Fatalf("expected result with error, got %+v, %v", res, err)
	}
	if res.Order.ThreadID != "thread-2" {
		t.Fatalf("expected link to be stored, got %+v", res.Order)
	}

	if _, err := uc.Execute(context.Background(), "", "t"); !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("expected ErrInvalidThread, got %v", err)
	}
}

func TestGetShipmentHistory(t *testing.T) {
	store := memory.NewShipmentRepository()
	seed(t, store, shipment.StatusInTransit)
	auditRepo := memory.NewAuditRepository()
	auditRepo.Create(context.Background(), &audit.Entry{EntityType: audit.EntityShipment, EntityID: "a", Action: "shipment.updated"})
	uc := NewGetShipmentHistory(store, store, auditRepo)

	dto, err := uc.Execute(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if dto.Shipment.ShipmentID != "a" || dto.Order != nil || len(dto.Audit) != 1 {
		t.Fatalf("unexpected history %+v", dto)
	}
	if _, err := uc.Execute(context.Background(), "zz", 0); !errors.Is(err, shipment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
