package shipment

import (
	"fmt"
	"time"

	"shiptrack/internal/domain/event"
)

// Diff computes the ordered events produced by moving a shipment from
// previous to current. A nil previous means the shipment was just created.
//
// Order: created, updated, status.changed, delivered, exception.
func Diff(previous *Snapshot, current Snapshot) ([]event.Message, error) {
	payload := ChangePayload{
		Previous:   previous,
		Current:    current,
		ObservedAt: current.LastChecked,
	}
	if payload.ObservedAt.IsZero() {
		payload.ObservedAt = time.Now().UTC()
	}

	var topics []event.Topic
	if previous == nil {
		topics = append(topics, event.TopicShipmentCreated)
	}
	topics = append(topics, event.TopicShipmentUpdated)

	if previous != nil && previous.Status != current.Status {
		topics = append(topics, event.TopicShipmentStatusChanged)
	}
	if enteredStatus(previous, current, StatusDelivered) {
		topics = append(topics, event.TopicShipmentDelivered)
	}
	if enteredStatus(previous, current, StatusException) {
		topics = append(topics, event.TopicShipmentException)
	}

	msgs := make([]event.Message, 0, len(topics))
	for _, topic := range topics {
		msg, err := event.NewMessage(topic, payload)
		if err != nil {
			return nil, err
		}
		msg.DedupeKey = dedupeKey(topic, previous, current, payload.ObservedAt)
		msg.Metadata = map[string]any{
			"shipment_id": current.ShipmentID,
			"po_number":   current.PONumber,
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// enteredStatus is true only on the edge into target. A creation directly
// into target counts as an edge because nothing was observed before.
func enteredStatus(previous *Snapshot, current Snapshot, target Status) bool {
	if current.Status != target {
		return false
	}
	return previous == nil || previous.Status != target
}

func dedupeKey(topic event.Topic, previous *Snapshot, current Snapshot, observedAt time.Time) string {
	from := "none"
	if previous != nil {
		from = string(previous.Status)
	}
	return fmt.Sprintf("%s:%s:%s>%s:%d", topic, current.ShipmentID, from, current.Status, observedAt.UnixNano())
}
