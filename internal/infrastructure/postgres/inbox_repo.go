package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type InboxRepository struct {
	pool *pgxpool.Pool
}

func NewInboxRepository(pool *pgxpool.Pool) *InboxRepository {
	return &InboxRepository{pool: pool}
}

// SaveIfNotExists returns true if the event was saved (is new), false if it already existed.
func (r *InboxRepository) SaveIfNotExists(ctx context.Context, consumer, eventID, eventType, correlationID string) (bool, error) {
	const query = `
		INSERT INTO inbox_events (consumer, event_id, event_type, correlation_id, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (consumer, event_id) DO NOTHING
	`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, consumer, eventID, eventType, nullIfEmpty(correlationID))
	if err != nil {
		return false, fmt.Errorf("insert inbox event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *InboxRepository) Exists(ctx context.Context, consumer, eventID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM inbox_events WHERE consumer = $1 AND event_id = $2)`

	var ok bool
	if err := conn(ctx, r.pool).QueryRow(ctx, query, consumer, eventID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check inbox event: %w", err)
	}
	return ok, nil
}

// Prune removes inbox rows older than retention. Redeliveries arrive within
// the queue's retry window, so old rows no longer protect anything.
func (r *InboxRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	const query = `DELETE FROM inbox_events WHERE processed_at < NOW() - make_interval(secs => $1)`
	tag, err := r.pool.Exec(ctx, query, retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("prune inbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
