package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type Topic string

const (
	TopicShipmentCreated       Topic = "shipment.created"
	TopicShipmentUpdated       Topic = "shipment.updated"
	TopicShipmentStatusChanged Topic = "shipment.status.changed"
	TopicShipmentDelivered     Topic = "shipment.delivered"
	TopicShipmentException     Topic = "shipment.exception"
)

// Topics is the fixed topic vocabulary.
var Topics = []Topic{
	TopicShipmentCreated,
	TopicShipmentUpdated,
	TopicShipmentStatusChanged,
	TopicShipmentDelivered,
	TopicShipmentException,
}

func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// Message is a producer-created event that has not been persisted yet.
// Payload is kept as raw JSON so the queue never needs to know its type.
type Message struct {
	Topic        Topic           `json:"topic"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	DedupeKey    string          `json:"dedupe_key,omitempty"`
	MaxAttempts  int             `json:"max_attempts,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// Queued is a persisted Message. Only the queue mutates it.
type Queued struct {
	Message
	ID          string     `json:"id"`
	Attempts    int        `json:"attempts"`
	AvailableAt time.Time  `json:"available_at"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Dead reports whether the event has exhausted its attempts.
func (q Queued) Dead() bool {
	return q.MaxAttempts > 0 && q.Attempts >= q.MaxAttempts
}

func NewMessage[P any](topic Topic, payload P) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Message{Topic: topic, Payload: raw}, nil
}

func DecodePayload[P any](m Message) (P, error) {
	var p P
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", m.Topic, err)
	}
	return p, nil
}
