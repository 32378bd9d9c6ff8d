package shipment

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusFailedAttempt  Status = "failed_attempt"
	StatusDelivered      Status = "delivered"
	StatusException      Status = "exception"
)

var (
	ErrUnknownStatus     = errors.New("unknown shipment status")
	ErrInvalidTransition = errors.New("invalid shipment status transition")
	ErrNotFound          = errors.New("shipment not found")
)

// transitions lists the allowed forward moves. Exception is handled
// separately because it is reachable from every non-terminal status.
var transitions = map[Status][]Status{
	StatusPending:        {StatusInTransit},
	StatusInTransit:      {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered, StatusFailedAttempt},
	StatusFailedAttempt:  {StatusOutForDelivery},
	StatusException:      {StatusInTransit, StatusOutForDelivery, StatusDelivered},
	StatusDelivered:      nil,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s Status) Terminal() bool {
	return s == StatusDelivered
}

// CanTransition reports whether a shipment may move from one status to
// another. Re-observing the current status is not a transition and is
// always accepted.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusException {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Snapshot is an immutable projection of a shipment used for diffing.
type Snapshot struct {
	ShipmentID        string     `json:"shipment_id"`
	TrackingNumber    string     `json:"tracking_number"`
	Status            Status     `json:"status"`
	Carrier           string     `json:"carrier"`
	PONumber          string     `json:"po_number"`
	Supplier          string     `json:"supplier"`
	ShippedDate       *time.Time `json:"shipped_date,omitempty"`
	DeliveredDate     *time.Time `json:"delivered_date,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	LastChecked       time.Time  `json:"last_checked"`
}

// ChangePayload is the payload carried by every shipment.* topic.
type ChangePayload struct {
	Previous   *Snapshot `json:"previous,omitempty"`
	Current    Snapshot  `json:"current"`
	ObservedAt time.Time `json:"observed_at"`
}

// StatusChanged reports whether the payload describes a status transition.
func (p ChangePayload) StatusChanged() bool {
	return p.Previous != nil && p.Previous.Status != p.Current.Status
}
