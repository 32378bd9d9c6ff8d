package consumer

import (
	"context"
	"errors"
	"testing"

	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/notification"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
	"shiptrack/internal/infrastructure/memory"
)

func TestCatchUpSendsMostRelevantFirst(t *testing.T) {
	spy := &spyNotifier{}
	c := NewCatchUpNotifier(stubShipments{
		ship("s1", shipment.StatusInTransit),
		ship("s2", shipment.StatusPending),
		ship("s3", shipment.StatusException),
		ship("s4", shipment.StatusDelivered),
	}, memory.NewAuditRepository(), spy, "acme", nil)

	res, err := c.Notify(context.Background(), order.Order{ID: "PO-1", ThreadID: "thread-1"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Sent != 3 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	sent := spy.sent()
	wantOrder := []string{"s3", "s4", "s1"}
	for i, id := range wantOrder {
		if sent[i].ObjectID != id {
			t.Fatalf("expected %s at position %d, got %s", id, i, sent[i].ObjectID)
		}
		if sent[i].Data["isCatchup"] != true {
			t.Fatalf("expected catch-up flag on %s", id)
		}
	}
	if sent[0].Workflow != notification.TypeException.Workflow() {
		t.Fatalf("expected exception workflow, got %s", sent[0].Workflow)
	}
}

func TestCatchUpSkipsAlreadySent(t *testing.T) {
	spy := &spyNotifier{}
	auditRepo := memory.NewAuditRepository()
	auditRepo.Create(context.Background(), &audit.Entry{
		EntityType: audit.EntityShipment,
		EntityID:   "s1",
		Action:     audit.ActionNotificationSent,
		Metadata:   map[string]any{"notification_type": "delivered"},
		Status:     audit.StatusSuccess,
	})
	c := NewCatchUpNotifier(stubShipments{ship("s1", shipment.StatusDelivered)}, auditRepo, spy, "", nil)

	res, err := c.Notify(context.Background(), order.Order{ID: "PO-1", ThreadID: "t"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 || len(spy.sent()) != 0 {
		t.Fatalf("expected catch-up to be skipped, got %+v with %d triggers", res, len(spy.sent()))
	}
}

func TestCatchUpOnlyChecksCurrentType(t *testing.T) {
	spy := &spyNotifier{}
	auditRepo := memory.NewAuditRepository()
	auditRepo.Create(context.Background(), &audit.Entry{
		EntityType: audit.EntityShipment,
		EntityID:   "s1",
		Action:     audit.ActionNotificationSent,
		Metadata:   map[string]any{"notification_type": "shipped"},
	})
	c := NewCatchUpNotifier(stubShipments{ship("s1", shipment.StatusDelivered)}, auditRepo, spy, "", nil)

	res, _ := c.Notify(context.Background(), order.Order{ID: "PO-1", ThreadID: "t"})
	if res.Sent != 1 {
		t.Fatalf("expected delivered to be caught up, got %+v", res)
	}

	ok, _ := auditRepo.HasAction(context.Background(), audit.Query{
		EntityID: "s1",
		Action:   audit.ActionNotificationSent,
		Metadata: map[string]any{"notification_type": "delivered", "isCatchup": true},
	})
	if !ok {
		t.Fatal("expected catch-up send to be audited")
	}
}

func TestCatchUpWithoutThreadDoesNothing(t *testing.T) {
	spy := &spyNotifier{}
	c := NewCatchUpNotifier(stubShipments{ship("s1", shipment.StatusDelivered)}, memory.NewAuditRepository(), spy, "", nil)

	res, err := c.Notify(context.Background(), order.Order{ID: "PO-1"})
	if err != nil || res != (CatchUpResult{}) || len(spy.sent()) != 0 {
		t.Fatalf("expected no work, got %+v, %v", res, err)
	}
}

func TestCatchUpContinuesPastFailures(t *testing.T) {
	spy := &spyNotifier{fail: map[string]error{"s1": errors.New("provider down")}}
	c := NewCatchUpNotifier(stubShipments{
		ship("s1", shipment.StatusException),
		ship("s2", shipment.StatusDelivered),
	}, memory.NewAuditRepository(), spy, "", nil)

	res, err := c.Notify(context.Background(), order.Order{ID: "PO-1", ThreadID: "t"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if res.Failed != 1 || res.Sent != 1 {
		t.Fatalf("expected one failure and one send, got %+v", res)
	}
}
