package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/outbox"
	"shiptrack/internal/domain/shipment"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"
)

// startPostgres runs a throwaway Postgres 16 with migrations applied.
// Skipped under -short and when no container runtime is available.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shiptrack"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := Migrate(strings.Replace(dsn, "postgres://", "pgx5://", 1)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := Connect(ctx, dsn, 10)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresAdapters(t *testing.T) {
	pool := startPostgres(t)

	t.Run("queue claims are disjoint", func(t *testing.T) { testDisjointClaims(t, pool) })
	t.Run("queue dead letters", func(t *testing.T) { testDeadLetters(t, pool) })
	t.Run("queue visibility timeout and max attempts", func(t *testing.T) { testVisibilityAndMaxAttempts(t, pool) })
	t.Run("queue dedupe", func(t *testing.T) { testDedupe(t, pool) })
	t.Run("enqueue rolls back with the transaction", func(t *testing.T) { testTransactionalEnqueue(t, pool) })
	t.Run("shipments and orders", func(t *testing.T) { testShipmentsAndOrders(t, pool) })
	t.Run("first observations of a shipment serialize", func(t *testing.T) { testFirstObservationLock(t, pool) })
	t.Run("audit metadata containment", func(t *testing.T) { testAudit(t, pool) })
	t.Run("inbox", func(t *testing.T) { testInbox(t, pool) })
}

func testDisjointClaims(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	q := NewEventQueue(pool, 5, 0)
	const total = 60
	for i := 0; i < total; i++ {
		if _, err := q.Enqueue(ctx, event.Message{Topic: event.TopicShipmentCreated, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		g    errgroup.Group
	)
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for {
				batch, err := q.Claim(ctx, event.TopicShipmentCreated, outbox.ClaimOptions{BatchSize: 5})
				if err != nil {
					return err
				}
				if len(batch) == 0 {
					return nil
				}
				mu.Lock()
				for _, e := range batch {
					seen[e.ID]++
				}
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct claims, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("event %s claimed %d times", id, n)
		}
	}
}

func testDeadLetters(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	q := NewEventQueue(pool, 5, 0)

	id, err := q.Enqueue(ctx, event.Message{
		Topic:       event.TopicShipmentException,
		Payload:     []byte(`{}`),
		DedupeKey:   "exc:dead",
		MaxAttempts: 2,
		Metadata:    map[string]any{"shipment_id": "s1"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for attempt := 1; attempt <= 2; attempt++ {
		batch, err := q.Claim(ctx, event.TopicShipmentException, outbox.ClaimOptions{})
		if err != nil || len(batch) != 1 {
			t.Fatalf("attempt %d: expected one event, got %d, %v", attempt, len(batch), err)
		}
		if err := q.MarkFailed(ctx, id, "provider down"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}
	if batch, _ := q.Claim(ctx, event.TopicShipmentException, outbox.ClaimOptions{}); len(batch) != 0 {
		t.Fatal("expected no claim after attempts are exhausted")
	}

	dead, err := q.ListDead(ctx, 10)
	if err != nil || len(dead) != 1 || dead[0].ID != id {
		t.Fatalf("expected event in dead letters, got %+v, %v", dead, err)
	}
	if dead[0].Metadata["shipment_id"] != "s1" || dead[0].LastError != "provider down" {
		t.Fatalf("unexpected dead letter %+v", dead[0])
	}

	if err := q.Requeue(ctx, id); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	batch, _ := q.Claim(ctx, event.TopicShipmentException, outbox.ClaimOptions{})
	if len(batch) != 1 || batch[0].Attempts != 0 {
		t.Fatalf("expected requeued event with reset attempts, got %+v", batch)
	}
	if err := q.MarkCompleted(ctx, []string{id}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := q.Requeue(ctx, id); !errors.Is(err, outbox.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testVisibilityAndMaxAttempts(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	q := NewEventQueue(pool, 5, 0)
	topic := event.TopicShipmentStatusChanged
	opts := outbox.ClaimOptions{VisibilityTimeout: time.Second}

	id, err := q.Enqueue(ctx, event.Message{Topic: topic, Payload: []byte(`{}`), DedupeKey: "vis:1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if batch, _ := q.Claim(ctx, topic, opts); len(batch) != 1 || batch[0].ID != id {
		t.Fatalf("expected first claim, got %+v", batch)
	}
	if batch, _ := q.Claim(ctx, topic, opts); len(batch) != 0 {
		t.Fatalf("expected locked event to stay hidden, got %+v", batch)
	}
	time.Sleep(1500 * time.Millisecond)
	batch, err := q.Claim(ctx, topic, opts)
	if err != nil || len(batch) != 1 || batch[0].ID != id || batch[0].Attempts != 0 {
		t.Fatalf("expected reclaim after visibility timeout, got %+v, %v", batch, err)
	}
	if err := q.MarkCompleted(ctx, []string{id}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	id, err = q.Enqueue(ctx, event.Message{Topic: topic, Payload: []byte(`{}`), DedupeKey: "vis:2", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for attempt := 1; attempt <= 3; attempt++ {
		batch, err := q.Claim(ctx, topic, opts)
		if err != nil || len(batch) != 1 {
			t.Fatalf("attempt %d: expected one event, got %d, %v", attempt, len(batch), err)
		}
		if err := q.MarkFailed(ctx, id, "boom"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}
	time.Sleep(1500 * time.Millisecond)
	if batch, _ := q.Claim(ctx, topic, opts); len(batch) != 0 {
		t.Fatalf("expected no fourth claim, got %+v", batch)
	}
	dead, err := q.ListDead(ctx, 50)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	for _, d := range dead {
		if d.ID == id {
			if d.Attempts != 3 {
				t.Fatalf("expected 3 attempts, got %d", d.Attempts)
			}
			return
		}
	}
	t.Fatalf("expected %s in dead letters", id)
}

func testDedupe(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	q := NewEventQueue(pool, 5, time.Second)

	msg := event.Message{Topic: event.TopicShipmentDelivered, Payload: []byte(`{}`), DedupeKey: "delivered:s1"}
	id, err := q.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, msg); !errors.Is(err, outbox.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	q.Claim(ctx, event.TopicShipmentDelivered, outbox.ClaimOptions{})
	if err := q.MarkCompleted(ctx, []string{id}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("expected key free after completion, got %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("expected queue stats")
	}
}

func testTransactionalEnqueue(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	q := NewEventQueue(pool, 5, 0)
	tx := NewTxManager(pool)
	shipments := NewShipmentRepository(pool)

	boom := errors.New("rollback")
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := shipments.Upsert(ctx, shipment.Snapshot{ShipmentID: "tx-1", TrackingNumber: "T1", Status: shipment.StatusPending, LastChecked: time.Now()}); err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, event.Message{Topic: event.TopicShipmentUpdated, Payload: []byte(`{}`), DedupeKey: "tx-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	if _, err := shipments.GetSnapshot(ctx, "tx-1"); !errors.Is(err, shipment.ErrNotFound) {
		t.Fatalf("expected shipment rolled back, got %v", err)
	}
	if _, err := q.Enqueue(ctx, event.Message{Topic: event.TopicShipmentUpdated, Payload: []byte(`{}`), DedupeKey: "tx-1"}); err != nil {
		t.Fatalf("expected queued event rolled back, got %v", err)
	}
}

func testShipmentsAndOrders(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	shipments := NewShipmentRepository(pool)
	orders := NewOrderRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, st := range []shipment.Status{shipment.StatusDelivered, shipment.StatusInTransit} {
		s := shipment.Snapshot{
			ShipmentID:     []string{"po-a", "po-b"}[i],
			TrackingNumber: "1Z",
			Status:         st,
			PONumber:       "PO-77",
			LastChecked:    now,
		}
		if err := shipments.Upsert(ctx, s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	list, err := shipments.ListByOrder(ctx, "PO-77")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 shipments, got %d, %v", len(list), err)
	}
	if id, _ := shipments.OrderIDForShipment(ctx, "po-a"); id != "PO-77" {
		t.Fatalf("expected PO-77, got %q", id)
	}

	if _, err := orders.LinkThread(ctx, "PO-77", "thread-7"); err != nil {
		t.Fatalf("link: %v", err)
	}
	status, counts := order.Recompute(list)
	if err := orders.SaveOrder(ctx, order.Order{ID: "PO-77", Status: status, Counts: counts, UpdatedAt: now}); err != nil {
		t.Fatalf("save order: %v", err)
	}
	o, err := orders.GetOrder(ctx, "PO-77")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != order.StatusPartiallyDelivered || o.Counts.Total != 2 || o.ThreadID != "thread-7" {
		t.Fatalf("unexpected order %+v", o)
	}
	if _, err := orders.GetOrder(ctx, "PO-404"); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ids, err := orders.ListOrderIDs(ctx)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	found := false
	for _, id := range ids {
		found = found || id == "PO-77"
	}
	if !found {
		t.Fatalf("expected PO-77 in %v", ids)
	}
}

func testFirstObservationLock(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	tx := NewTxManager(pool)
	shipments := NewShipmentRepository(pool)

	held := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return tx.WithinTransaction(ctx, func(ctx context.Context) error {
			_, err := shipments.GetSnapshot(ctx, "lock-1")
			close(held)
			if !errors.Is(err, shipment.ErrNotFound) {
				return fmt.Errorf("expected no row yet, got %v", err)
			}
			time.Sleep(300 * time.Millisecond)
			return shipments.Upsert(ctx, shipment.Snapshot{ShipmentID: "lock-1", TrackingNumber: "L1", Status: shipment.StatusPending, LastChecked: time.Now()})
		})
	})

	<-held
	var seen *shipment.Snapshot
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		s, err := shipments.GetSnapshot(ctx, "lock-1")
		seen = s
		return err
	})
	if err != nil {
		t.Fatalf("expected the second reader to wait for the first insert, got %v", err)
	}
	if seen.Status != shipment.StatusPending {
		t.Fatalf("unexpected snapshot %+v", seen)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("first transaction: %v", err)
	}
}

func testAudit(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	repo := NewAuditRepository(pool)

	err := repo.CreateMany(ctx, []*audit.Entry{
		{EntityType: audit.EntityShipment, EntityID: "au-1", Action: audit.ActionNotificationSent, Actor: "system", Status: audit.StatusSuccess, Metadata: map[string]any{"notification_type": "shipped"}},
		{EntityType: audit.EntityShipment, EntityID: "au-1", Action: audit.ActionNotificationSent, Actor: "system", Status: audit.StatusSuccess, Metadata: map[string]any{"notification_type": "delivered", "isCatchup": true}},
	})
	if err != nil {
		t.Fatalf("create many: %v", err)
	}

	ok, err := repo.HasAction(ctx, audit.Query{
		EntityType: audit.EntityShipment,
		EntityID:   "au-1",
		Action:     audit.ActionNotificationSent,
		Metadata:   map[string]any{"notification_type": "delivered"},
	})
	if err != nil || !ok {
		t.Fatalf("expected containment match, got %v, %v", ok, err)
	}
	ok, _ = repo.HasAction(ctx, audit.Query{EntityID: "au-1", Metadata: map[string]any{"notification_type": "exception"}})
	if ok {
		t.Fatal("expected no match")
	}
	if n, _ := repo.Count(ctx, audit.Query{EntityID: "au-1"}); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	history, err := repo.GetHistory(ctx, audit.Query{EntityID: "au-1", Limit: 1})
	if err != nil || len(history) != 1 {
		t.Fatalf("expected limited history, got %d, %v", len(history), err)
	}
}

func testInbox(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	inbox := NewInboxRepository(pool)

	fresh, err := inbox.SaveIfNotExists(ctx, "audit-logger", "ev-1", "shipment.created", "PO-1")
	if err != nil || !fresh {
		t.Fatalf("expected first save to be fresh, got %v, %v", fresh, err)
	}
	fresh, _ = inbox.SaveIfNotExists(ctx, "audit-logger", "ev-1", "shipment.created", "PO-1")
	if fresh {
		t.Fatal("expected redelivery to be detected")
	}
	fresh, _ = inbox.SaveIfNotExists(ctx, "other-consumer", "ev-1", "shipment.created", "PO-1")
	if !fresh {
		t.Fatal("expected inbox to be per consumer")
	}
	if ok, err := inbox.Exists(ctx, "audit-logger", "ev-1"); err != nil || !ok {
		t.Fatalf("expected ev-1 recorded, got %v, %v", ok, err)
	}
	if ok, _ := inbox.Exists(ctx, "order-system-sync", "ev-1"); ok {
		t.Fatal("expected no record for an unrelated consumer")
	}
	if _, err := inbox.Prune(ctx, time.Hour); err != nil {
		t.Fatalf("prune: %v", err)
	}
}
