package usecase

import (
	"context"

	"shiptrack/internal/consumer"
	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ShipmentStore interface {
	GetSnapshot(ctx context.Context, id string) (*shipment.Snapshot, error)
	Upsert(ctx context.Context, s shipment.Snapshot) error
	ListByOrder(ctx context.Context, orderID string) ([]shipment.Snapshot, error)
	OrderIDForShipment(ctx context.Context, shipmentID string) (string, error)
}

type OrderStore interface {
	SaveOrder(ctx context.Context, o order.Order) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListOrderIDs(ctx context.Context) ([]string, error)
	LinkThread(ctx context.Context, orderID, threadID string) (*order.Order, error)
}

// EventPublisher is satisfied by eventbus.Publisher.
type EventPublisher interface {
	Enqueue(ctx context.Context, msgs ...event.Message) error
	Emit(ctx context.Context, msgs ...event.Message)
}

// OrderCache may be nil everywhere it is accepted.
type OrderCache interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	Set(ctx context.Context, o order.Order) error
	Invalidate(ctx context.Context, orderID string) error
}

type CatchUp interface {
	Notify(ctx context.Context, ord order.Order) (consumer.CatchUpResult, error)
}
