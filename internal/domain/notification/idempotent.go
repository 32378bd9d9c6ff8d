package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	reserveTTL  = 10 * time.Minute
	completeTTL = 24 * time.Hour
	keyPrefix   = "notify:"
)

// KeyStore reserves idempotency keys. Reserve must be atomic: of two
// concurrent callers with the same key, exactly one gets true.
type KeyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// Idempotent wraps a Service so that at most one outbound trigger is made
// per idempotency key. Triggers without a key pass straight through.
type Idempotent struct {
	next   Service
	keys   KeyStore
	logger *slog.Logger
}

func NewIdempotent(next Service, keys KeyStore, logger *slog.Logger) *Idempotent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Idempotent{next: next, keys: keys, logger: logger}
}

func (s *Idempotent) TriggerForObject(ctx context.Context, workflow, collection, objectID string, data map[string]any, opts TriggerOptions) Result {
	return s.guard(ctx, opts.IdempotencyKey, func() Result {
		return s.next.TriggerForObject(ctx, workflow, collection, objectID, data, opts)
	})
}

func (s *Idempotent) TriggerForUsers(ctx context.Context, workflow string, userIDs []string, data map[string]any, opts TriggerOptions) Result {
	return s.guard(ctx, opts.IdempotencyKey, func() Result {
		return s.next.TriggerForUsers(ctx, workflow, userIDs, data, opts)
	})
}

func (s *Idempotent) CancelWorkflow(ctx context.Context, workflow, cancellationKey string) Result {
	return s.next.CancelWorkflow(ctx, workflow, cancellationKey)
}

func (s *Idempotent) guard(ctx context.Context, key string, trigger func() Result) Result {
	if key == "" {
		return trigger()
	}
	storeKey := keyPrefix + key

	acquired, err := s.keys.Reserve(ctx, storeKey, reserveTTL)
	if err != nil {
		return Failed(fmt.Errorf("reserve idempotency key: %w", err))
	}
	if !acquired {
		s.logger.Info("notification already triggered", "idempotency_key", key)
		return Result{Success: true, Skipped: true}
	}

	res := trigger()
	if res.Err != nil || !res.Success {
		// Free the key so the retry of this event can trigger again.
		if err := s.keys.Release(ctx, storeKey); err != nil {
			s.logger.Error("failed to release idempotency key", "idempotency_key", key, "error", err)
		}
		return res
	}
	if err := s.keys.Complete(ctx, storeKey, completeTTL); err != nil {
		s.logger.Error("failed to complete idempotency key", "idempotency_key", key, "error", err)
	}
	return res
}
