package consumer

import (
	"context"

	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

// Transactor runs fn inside one database transaction carried by ctx.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inbox records processed event ids per consumer.
type Inbox interface {
	// SaveIfNotExists returns true if the event was saved (is new), false if
	// this consumer already processed it.
	SaveIfNotExists(ctx context.Context, consumer, eventID, eventType, correlationID string) (bool, error)
	Exists(ctx context.Context, consumer, eventID string) (bool, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

type ShipmentReader interface {
	GetSnapshot(ctx context.Context, id string) (*shipment.Snapshot, error)
}

type ShipmentLister interface {
	ListByOrder(ctx context.Context, orderID string) ([]shipment.Snapshot, error)
}

// OrderCache is the read-through cache in front of order lookups.
type OrderCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

// Producer writes one keyed record to an external stream.
type Producer interface {
	SendMessage(ctx context.Context, key, value []byte) error
}
