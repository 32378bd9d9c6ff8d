package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"shiptrack/internal/domain/order"
)

type GetOrder struct {
	orders OrderStore
	cache  OrderCache
	logger *slog.Logger
}

func NewGetOrder(orders OrderStore, cache OrderCache, logger *slog.Logger) *GetOrder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetOrder{orders: orders, cache: cache, logger: logger}
}

// Execute reads through the cache. Cache failures only cost a database read.
func (uc *GetOrder) Execute(ctx context.Context, orderID string) (*order.Order, error) {
	if uc.cache != nil {
		cached, err := uc.cache.Get(ctx, orderID)
		if err != nil {
			uc.logger.Warn("order cache read failed", "order_id", orderID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	o, err := uc.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, *o); err != nil {
			uc.logger.Warn("order cache write failed", "order_id", orderID, "error", err)
		}
	}
	return o, nil
}
