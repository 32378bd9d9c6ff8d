package audit

import (
	"context"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

const (
	EntityShipment = "shipment"
	EntityOrder    = "order"

	ActionNotificationSent   = "notification.sent"
	ActionNotificationFailed = "notification.failed"
	ActionThreadLinked       = "order.thread_linked"
)

// Entry is an append-only audit record. Rows are never updated or deleted.
type Entry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Query selects entries for an entity. Metadata, when set, must be
// contained in the entry's metadata.
type Query struct {
	EntityType string
	EntityID   string
	Action     string
	Metadata   map[string]any
	Limit      int
}

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	CreateMany(ctx context.Context, entries []*Entry) error
	GetHistory(ctx context.Context, q Query) ([]*Entry, error)
	HasAction(ctx context.Context, q Query) (bool, error)
	GetLatest(ctx context.Context, q Query) (*Entry, error)
	Count(ctx context.Context, q Query) (int, error)
}
