package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shiptrack/internal/domain/order"
)

// OrderSync rebuilds order aggregates from their shipments. Every call is
// a full recomputation, so overlapping syncs of one order converge.
type OrderSync struct {
	shipments ShipmentStore
	orders    OrderStore
	cache     OrderCache
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrderSync(shipments ShipmentStore, orders OrderStore, cache OrderCache, logger *slog.Logger) *OrderSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderSync{
		shipments: shipments,
		orders:    orders,
		cache:     cache,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SyncByShipmentID returns nil when the shipment belongs to no order.
func (s *OrderSync) SyncByShipmentID(ctx context.Context, shipmentID string) (*order.Order, error) {
	orderID, err := s.shipments.OrderIDForShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, nil
	}
	return s.SyncOrder(ctx, orderID)
}

func (s *OrderSync) SyncOrder(ctx context.Context, orderID string) (*order.Order, error) {
	shipments, err := s.shipments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list shipments of order %s: %w", orderID, err)
	}
	status, counts := order.Recompute(shipments)

	if err := s.orders.SaveOrder(ctx, order.Order{
		ID:        orderID,
		Status:    status,
		Counts:    counts,
		UpdatedAt: s.now(),
	}); err != nil {
		return nil, fmt.Errorf("save order %s: %w", orderID, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, orderID); err != nil {
			s.logger.Warn("failed to invalidate order cache", "order_id", orderID, "error", err)
		}
	}
	return s.orders.GetOrder(ctx, orderID)
}

// SyncAll recomputes every known order and reports how many succeeded.
func (s *OrderSync) SyncAll(ctx context.Context) (int, error) {
	ids, err := s.orders.ListOrderIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orders: %w", err)
	}
	var (
		synced int
		errs   []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.SyncOrder(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}
	s.logger.Info("orders resynced", "synced", synced, "total", len(ids))
	return synced, errors.Join(errs...)
}
