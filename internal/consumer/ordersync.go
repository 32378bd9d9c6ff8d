package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

// OrderStatusSync recomputes the order aggregate of the shipment an event
// is about. Recomputation is total, so redelivery is harmless.
type OrderStatusSync struct {
	sync   order.SyncService
	logger *slog.Logger
}

func NewOrderStatusSync(sync order.SyncService, logger *slog.Logger) *OrderStatusSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderStatusSync{sync: sync, logger: logger}
}

func (s *OrderStatusSync) Handle(ctx context.Context, ev event.Queued) error {
	payload, err := event.DecodePayload[shipment.ChangePayload](ev.Message)
	if err != nil {
		return err
	}
	ord, err := s.sync.SyncByShipmentID(ctx, payload.Current.ShipmentID)
	if err != nil {
		return fmt.Errorf("sync order for shipment %s: %w", payload.Current.ShipmentID, err)
	}
	if ord != nil {
		s.logger.Debug("order synced", "order_id", ord.ID, "status", ord.Status, "total", ord.Counts.Total)
	}
	return nil
}

// ShipmentRecord is the message published to the order management system.
type ShipmentRecord struct {
	EventID    string            `json:"event_id"`
	Topic      event.Topic       `json:"topic"`
	Shipment   shipment.Snapshot `json:"shipment"`
	ObservedAt time.Time         `json:"observed_at"`
}

const orderSystemConsumer = "order-system-sync"

// OrderSystemSync forwards every shipment mutation to the order system,
// keyed by PO number so updates for one order stay in partition order.
// Events are marked in the inbox only after the record was written, so a
// retry caused by a sibling subscription publishes nothing new.
type OrderSystemSync struct {
	producer Producer
	inbox    Inbox
	logger   *slog.Logger
}

func NewOrderSystemSync(producer Producer, inbox Inbox, logger *slog.Logger) *OrderSystemSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderSystemSync{producer: producer, inbox: inbox, logger: logger}
}

func (s *OrderSystemSync) Handle(ctx context.Context, ev event.Queued) error {
	payload, err := event.DecodePayload[shipment.ChangePayload](ev.Message)
	if err != nil {
		return err
	}
	cur := payload.Current
	if cur.PONumber == "" {
		s.logger.Debug("shipment has no po number, order system sync skipped", "shipment_id", cur.ShipmentID)
		return nil
	}

	seen, err := s.inbox.Exists(ctx, orderSystemConsumer, ev.ID)
	if err != nil {
		return fmt.Errorf("check inbox: %w", err)
	}
	if seen {
		s.logger.Debug("shipment record already published", "event_id", ev.ID, "shipment_id", cur.ShipmentID)
		return nil
	}

	value, err := json.Marshal(ShipmentRecord{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		Shipment:   cur,
		ObservedAt: payload.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal shipment record: %w", err)
	}
	if err := s.producer.SendMessage(ctx, []byte(cur.PONumber), value); err != nil {
		return fmt.Errorf("publish shipment %s: %w", cur.ShipmentID, err)
	}
	if _, err := s.inbox.SaveIfNotExists(ctx, orderSystemConsumer, ev.ID, string(ev.Topic), cur.PONumber); err != nil {
		// The record is out; a redelivery would only publish it again.
		s.logger.Warn("failed to mark shipment record published", "event_id", ev.ID, "error", err)
	}
	return nil
}

// OrderCacheInvalidator drops the cached order as soon as one of its
// shipments changes. It runs in immediate mode; a missed invalidation only
// costs one stale read until the cache entry expires.
type OrderCacheInvalidator struct {
	cache  OrderCache
	logger *slog.Logger
}

func NewOrderCacheInvalidator(cache OrderCache, logger *slog.Logger) *OrderCacheInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderCacheInvalidator{cache: cache, logger: logger}
}

func (c *OrderCacheInvalidator) Handle(ctx context.Context, ev event.Queued) error {
	payload, err := event.DecodePayload[shipment.ChangePayload](ev.Message)
	if err != nil {
		return err
	}
	if payload.Current.PONumber == "" {
		return nil
	}
	return c.cache.Invalidate(ctx, payload.Current.PONumber)
}
