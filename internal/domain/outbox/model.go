package outbox

import (
	"context"
	"errors"
	"time"

	"shiptrack/internal/domain/event"
)

const (
	DefaultBatchSize         = 25
	DefaultMaxAttempts       = 5
	DefaultVisibilityTimeout = 5 * time.Minute
	maxErrorLength           = 2000
)

var (
	// ErrDuplicate is returned by Enqueue when an active event already
	// holds the same dedupe key.
	ErrDuplicate = errors.New("event with the same dedupe key is already queued")
	ErrNotFound  = errors.New("event not found")
)

type ClaimOptions struct {
	BatchSize         int
	VisibilityTimeout time.Duration
}

// WithDefaults fills zero values with the package defaults.
func (o ClaimOptions) WithDefaults() ClaimOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return o
}

// Queue is the durable outbox. Claim must select and lock in one atomic
// step: two concurrent claims never return the same event.
type Queue interface {
	Enqueue(ctx context.Context, msg event.Message) (string, error)
	Claim(ctx context.Context, topic event.Topic, opts ClaimOptions) ([]event.Queued, error)
	MarkCompleted(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// DeadLetters exposes events that exhausted their attempts.
type DeadLetters interface {
	ListDead(ctx context.Context, limit int) ([]DeadEvent, error)
	Requeue(ctx context.Context, id string) error
}

type DeadEvent struct {
	event.Queued
	FailedAt time.Time `json:"failed_at"`
}

// TruncateError bounds the stored error text.
func TruncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}

// Backoff returns the delay before an event that has failed attempts times
// becomes claimable again.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 || attempts <= 0 {
		return 0
	}
	const ceiling = time.Hour
	d := base
	for i := 1; i < attempts && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}
