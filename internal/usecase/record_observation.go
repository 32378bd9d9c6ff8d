package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/shipment"
)

var ErrInvalidObservation = errors.New("invalid observation")

// Observation is one carrier reading of a shipment. Empty fields keep the
// stored value.
type Observation struct {
	ShipmentID        string     `json:"shipment_id"`
	TrackingNumber    string     `json:"tracking_number"`
	Status            string     `json:"status"`
	Carrier           string     `json:"carrier,omitempty"`
	PONumber          string     `json:"po_number,omitempty"`
	Supplier          string     `json:"supplier,omitempty"`
	ShippedDate       *time.Time `json:"shipped_date,omitempty"`
	DeliveredDate     *time.Time `json:"delivered_date,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	ObservedAt        time.Time  `json:"observed_at"`
}

type RecordResult struct {
	ShipmentID string        `json:"shipment_id"`
	Status     string        `json:"status"`
	Events     []event.Topic `json:"events"`
	// Stale is set when the observation is older than the stored one and
	// was ignored.
	Stale bool `json:"stale,omitempty"`
}

type RecordObservation struct {
	tx        Transactor
	shipments ShipmentStore
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewRecordObservation(tx Transactor, shipments ShipmentStore, publisher EventPublisher, logger *slog.Logger) *RecordObservation {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordObservation{
		tx:        tx,
		shipments: shipments,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute stores the observation and queues the resulting events in the
// same transaction. Immediate subscribers are notified after commit.
func (uc *RecordObservation) Execute(ctx context.Context, obs Observation) (*RecordResult, error) {
	if obs.ShipmentID == "" {
		return nil, fmt.Errorf("%w: missing shipment_id", ErrInvalidObservation)
	}
	status, err := shipment.ParseStatus(obs.Status)
	if err != nil {
		return nil, err
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = uc.now()
	}

	res := &RecordResult{ShipmentID: obs.ShipmentID, Status: string(status)}
	var msgs []event.Message

	err = uc.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		prev, err := uc.shipments.GetSnapshot(ctx, obs.ShipmentID)
		if errors.Is(err, shipment.ErrNotFound) {
			prev = nil
		} else if err != nil {
			return err
		}

		if prev != nil {
			if obs.ObservedAt.Before(prev.LastChecked) {
				res.Stale = true
				return nil
			}
			if !shipment.CanTransition(prev.Status, status) {
				return fmt.Errorf("%w: %s -> %s", shipment.ErrInvalidTransition, prev.Status, status)
			}
		}
		if prev == nil && obs.TrackingNumber == "" {
			return fmt.Errorf("%w: missing tracking_number", ErrInvalidObservation)
		}

		cur := merge(prev, obs, status)
		if err := uc.shipments.Upsert(ctx, cur); err != nil {
			return err
		}
		msgs, err = shipment.Diff(prev, cur)
		if err != nil {
			return err
		}
		return uc.publisher.Enqueue(ctx, msgs...)
	})
	if err != nil {
		return nil, fmt.Errorf("record observation for %s: %w", obs.ShipmentID, err)
	}
	if res.Stale {
		uc.logger.Info("stale observation ignored", "shipment_id", obs.ShipmentID, "observed_at", obs.ObservedAt)
		return res, nil
	}

	uc.publisher.Emit(ctx, msgs...)
	for _, m := range msgs {
		res.Events = append(res.Events, m.Topic)
	}
	uc.logger.Info("observation recorded", "shipment_id", obs.ShipmentID, "status", status, "events", len(msgs))
	return res, nil
}

func merge(prev *shipment.Snapshot, obs Observation, status shipment.Status) shipment.Snapshot {
	var cur shipment.Snapshot
	if prev != nil {
		cur = *prev
	}
	cur.ShipmentID = obs.ShipmentID
	cur.Status = status
	cur.LastChecked = obs.ObservedAt

	setIfPresent(&cur.TrackingNumber, obs.TrackingNumber)
	setIfPresent(&cur.Carrier, obs.Carrier)
	setIfPresent(&cur.PONumber, obs.PONumber)
	setIfPresent(&cur.Supplier, obs.Supplier)
	if obs.ShippedDate != nil {
		cur.ShippedDate = obs.ShippedDate
	}
	if obs.DeliveredDate != nil {
		cur.DeliveredDate = obs.DeliveredDate
	}
	if obs.EstimatedDelivery != nil {
		cur.EstimatedDelivery = obs.EstimatedDelivery
	}

	observed := obs.ObservedAt
	if cur.ShippedDate == nil && status != shipment.StatusPending {
		cur.ShippedDate = &observed
	}
	if cur.DeliveredDate == nil && status == shipment.StatusDelivered {
		cur.DeliveredDate = &observed
	}
	return cur
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
