package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"shiptrack/internal/consumer"
	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/order"
)

var ErrInvalidThread = errors.New("invalid thread link")

type LinkThreadResult struct {
	Order         *order.Order           `json:"order"`
	AlreadyLinked bool                   `json:"already_linked,omitempty"`
	CatchUp       consumer.CatchUpResult `json:"catch_up"`
}

// LinkThread attaches a communication thread to an order and backfills
// the notifications the order missed while it had none.
type LinkThread struct {
	orders  OrderStore
	sync    order.SyncService
	catchUp CatchUp
	audit   audit.Repository
	cache   OrderCache
	logger  *slog.Logger
}

func NewLinkThread(orders OrderStore, sync order.SyncService, catchUp CatchUp, auditRepo audit.Repository, cache OrderCache, logger *slog.Logger) *LinkThread {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkThread{
		orders:  orders,
		sync:    sync,
		catchUp: catchUp,
		audit:   auditRepo,
		cache:   cache,
		logger:  logger,
	}
}

func (uc *LinkThread) Execute(ctx context.Context, orderID, threadID string) (*LinkThreadResult, error) {
	if orderID == "" || threadID == "" {
		return nil, fmt.Errorf("%w: order id and thread id are required", ErrInvalidThread)
	}

	existing, err := uc.orders.GetOrder(ctx, orderID)
	if err != nil && !errors.Is(err, order.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.ThreadID == threadID {
		return &LinkThreadResult{Order: existing, AlreadyLinked: true}, nil
	}

	ord, err := uc.orders.LinkThread(ctx, orderID, threadID)
	if err != nil {
		return nil, err
	}
	if err := uc.audit.Create(ctx, &audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   orderID,
		Action:     audit.ActionThreadLinked,
		Actor:      "system",
		Metadata:   map[string]any{"thread_id": threadID},
		Status:     audit.StatusSuccess,
	}); err != nil {
		uc.logger.Error("failed to audit thread link", "order_id", orderID, "error", err)
	}

	// Counts may be stale if the order was created by this link.
	if synced, err := uc.sync.SyncOrder(ctx, orderID); err != nil {
		uc.logger.Warn("order sync after link failed", "order_id", orderID, "error", err)
	} else if synced != nil {
		ord = synced
	}
	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx, orderID); err != nil {
			uc.logger.Warn("failed to invalidate order cache", "order_id", orderID, "error", err)
		}
	}

	res := &LinkThreadResult{Order: ord}
	res.CatchUp, err = uc.catchUp.Notify(ctx, *ord)
	if err != nil {
		return res, fmt.Errorf("catch-up for order %s: %w", orderID, err)
	}
	return res, nil
}
