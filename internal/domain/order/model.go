package order

import (
	"context"
	"errors"
	"time"

	"shiptrack/internal/domain/shipment"
)

var ErrNotFound = errors.New("order not found")

type Status string

const (
	StatusPending            Status = "pending"
	StatusInTransit          Status = "in_transit"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusDelivered          Status = "delivered"
	StatusException          Status = "exception"
)

// Counts is the per-category shipment breakdown of an order.
type Counts struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	InTransit      int `json:"in_transit"`
	OutForDelivery int `json:"out_for_delivery"`
	Delivered      int `json:"delivered"`
	Exception      int `json:"exception"`
}

// Order is the denormalized aggregate of every shipment sharing a PO number.
// It is only ever written by recomputation.
type Order struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Counts    Counts    `json:"counts"`
	ThreadID  string    `json:"thread_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasThread reports whether a communication channel is linked to the order.
func (o Order) HasThread() bool {
	return o.ThreadID != ""
}

// Recompute derives the aggregate from scratch. Calling it twice with the
// same shipments yields the same result, so concurrent syncs converge.
func Recompute(shipments []shipment.Snapshot) (Status, Counts) {
	var c Counts
	for _, s := range shipments {
		c.Total++
		switch s.Status {
		case shipment.StatusPending:
			c.Pending++
		case shipment.StatusInTransit:
			c.InTransit++
		case shipment.StatusOutForDelivery, shipment.StatusFailedAttempt:
			c.OutForDelivery++
		case shipment.StatusDelivered:
			c.Delivered++
		case shipment.StatusException:
			c.Exception++
		}
	}

	switch {
	case c.Total == 0:
		return StatusPending, c
	case c.Exception > 0:
		return StatusException, c
	case c.Delivered == c.Total:
		return StatusDelivered, c
	case c.Delivered > 0:
		return StatusPartiallyDelivered, c
	case c.InTransit+c.OutForDelivery > 0:
		return StatusInTransit, c
	default:
		return StatusPending, c
	}
}

// SyncService keeps order aggregates consistent with their shipments.
type SyncService interface {
	SyncByShipmentID(ctx context.Context, shipmentID string) (*Order, error)
	SyncOrder(ctx context.Context, orderID string) (*Order, error)
	SyncAll(ctx context.Context) (int, error)
}
