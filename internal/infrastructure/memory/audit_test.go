package memory

import (
	"context"
	"testing"

	"shiptrack/internal/domain/audit"
)

func TestAuditRepositoryQueries(t *testing.T) {
	repo := NewAuditRepository()
	ctx := context.Background()

	entries := []*audit.Entry{
		{EntityType: audit.EntityShipment, EntityID: "s1", Action: audit.ActionNotificationSent, Metadata: map[string]any{"notification_type": "shipped"}},
		{EntityType: audit.EntityShipment, EntityID: "s1", Action: audit.ActionNotificationSent, Metadata: map[string]any{"notification_type": "delivered", "isCatchup": true}},
		{EntityType: audit.EntityShipment, EntityID: "s2", Action: "shipment.updated"},
	}
	if err := repo.CreateMany(ctx, entries); err != nil {
		t.Fatalf("create many: %v", err)
	}
	if entries[0].ID == "" || entries[0].CreatedAt.IsZero() {
		t.Fatal("expected id and timestamp to be assigned")
	}

	ok, _ := repo.HasAction(ctx, audit.Query{
		EntityType: audit.EntityShipment,
		EntityID:   "s1",
		Action:     audit.ActionNotificationSent,
		Metadata:   map[string]any{"notification_type": "delivered"},
	})
	if !ok {
		t.Fatal("expected metadata containment match")
	}
	ok, _ = repo.HasAction(ctx, audit.Query{
		EntityID: "s1",
		Metadata: map[string]any{"notification_type": "exception"},
	})
	if ok {
		t.Fatal("expected no match for another notification type")
	}

	latest, _ := repo.GetLatest(ctx, audit.Query{EntityID: "s1"})
	if latest == nil || latest.Metadata["notification_type"] != "delivered" {
		t.Fatalf("expected newest entry first, got %+v", latest)
	}
	if n, _ := repo.Count(ctx, audit.Query{EntityType: audit.EntityShipment}); n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}

	// Stored entries are copies.
	entries[0].Metadata["notification_type"] = "tampered"
	ok, _ = repo.HasAction(ctx, audit.Query{EntityID: "s1", Metadata: map[string]any{"notification_type": "shipped"}})
	if !ok {
		t.Fatal("expected stored history to be unaffected by caller mutation")
	}
}
