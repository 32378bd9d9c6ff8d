package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultDeadListLimit = 100

// EventQueue is the durable outbox. Enqueue joins the transaction in ctx,
// so events are written atomically with the state change that caused them.
type EventQueue struct {
	pool         *pgxpool.Pool
	maxAttempts  int
	retryBackoff time.Duration
}

func NewEventQueue(pool *pgxpool.Pool, maxAttempts int, retryBackoff time.Duration) *EventQueue {
	if maxAttempts <= 0 {
		maxAttempts = outbox.DefaultMaxAttempts
	}
	return &EventQueue{pool: pool, maxAttempts: maxAttempts, retryBackoff: retryBackoff}
}

func (q *EventQueue) Enqueue(ctx context.Context, msg event.Message) (string, error) {
	const sql = `
		INSERT INTO event_queue (id, topic, payload, metadata, dedupe_key, max_attempts, available_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, NOW()))
		ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
	`

	maxAttempts := msg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	tag, err := conn(ctx, q.pool).Exec(ctx, sql,
		id, string(msg.Topic), []byte(msg.Payload), metadata, nullIfEmpty(msg.DedupeKey), maxAttempts, msg.ScheduledFor)
	if err != nil {
		return "", fmt.Errorf("insert queued event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("dedupe key %q: %w", msg.DedupeKey, outbox.ErrDuplicate)
	}
	return id, nil
}

// Claim locks up to BatchSize available events of topic in one statement.
// SKIP LOCKED keeps concurrent claimers from ever seeing the same row.
func (q *EventQueue) Claim(ctx context.Context, topic event.Topic, opts outbox.ClaimOptions) ([]event.Queued, error) {
	const sql = `
		WITH claimable AS (
			SELECT id
			FROM event_queue
			WHERE topic = $1
				AND attempts < max_attempts
				AND available_at <= NOW()
				AND (locked_at IS NULL OR locked_at < NOW() - make_interval(secs => $3))
			ORDER BY available_at ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_queue q
		SET locked_at = NOW()
		FROM claimable c
		WHERE q.id = c.id
		RETURNING
			q.id::text,
			q.topic,
			q.payload,
			q.metadata,
			COALESCE(q.dedupe_key, ''),
			q.attempts,
			q.max_attempts,
			q.available_at,
			q.locked_at,
			COALESCE(q.last_error, '')
	`
	opts = opts.WithDefaults()

	rows, err := q.pool.Query(ctx, sql, string(topic), opts.BatchSize, opts.VisibilityTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	var events []event.Queued
	for rows.Next() {
		var (
			e        event.Queued
			topicStr string
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &topicStr, &e.Payload, &meta, &e.DedupeKey, &e.Attempts, &e.MaxAttempts, &e.AvailableAt, &e.LockedAt, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan claimed event: %w", err)
		}
		e.Topic = event.Topic(topicStr)
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}

	// RETURNING does not preserve the CTE order.
	sort.SliceStable(events, func(i, j int) bool { return events[i].AvailableAt.Before(events[j].AvailableAt) })
	return events, nil
}

func (q *EventQueue) MarkCompleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const sql = `DELETE FROM event_queue WHERE id = ANY($1)`
	if _, err := q.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed releases the event for a later retry, or moves it to the
// dead-letter table once its attempts are exhausted.
func (q *EventQueue) MarkFailed(ctx context.Context, id string, message string) error {
	return pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRow(ctx, `SELECT attempts, max_attempts FROM event_queue WHERE id = $1 FOR UPDATE`, id).
			Scan(&attempts, &maxAttempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("mark failed %s: %w", id, outbox.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock event %s: %w", id, err)
		}

		attempts++
		delay := outbox.Backoff(q.retryBackoff, attempts)
		const update = `
			UPDATE event_queue
			SET attempts = $2,
				last_error = $3,
				locked_at = NULL,
				available_at = NOW() + make_interval(secs => $4)
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, update, id, attempts, outbox.TruncateError(message), delay.Seconds()); err != nil {
			return fmt.Errorf("mark failed %s: %w", id, err)
		}
		if attempts < maxAttempts {
			return nil
		}

		const moveToDead = `
			WITH moved AS (
				DELETE FROM event_queue WHERE id = $1
				RETURNING id, topic, payload, metadata, dedupe_key, attempts, max_attempts, last_error, created_at
			)
			INSERT INTO event_queue_dead (id, topic, payload, metadata, dedupe_key, attempts, max_attempts, last_error, created_at, failed_at)
			SELECT id, topic, payload, metadata, dedupe_key, attempts, max_attempts, last_error, created_at, NOW()
			FROM moved
		`
		if _, err := tx.Exec(ctx, moveToDead, id); err != nil {
			return fmt.Errorf("dead-letter %s: %w", id, err)
		}
		return nil
	})
}

func (q *EventQueue) ListDead(ctx context.Context, limit int) ([]outbox.DeadEvent, error) {
	const sql = `
		SELECT id::text, topic, payload, metadata, COALESCE(dedupe_key, ''), attempts, max_attempts, COALESCE(last_error, ''), failed_at
		FROM event_queue_dead
		ORDER BY failed_at ASC
		LIMIT $1
	`
	if limit <= 0 {
		limit = defaultDeadListLimit
	}

	rows, err := q.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead events: %w", err)
	}
	defer rows.Close()

	var out []outbox.DeadEvent
	for rows.Next() {
		var (
			d        outbox.DeadEvent
			topicStr string
			meta     []byte
		)
		if err := rows.Scan(&d.ID, &topicStr, &d.Payload, &meta, &d.DedupeKey, &d.Attempts, &d.MaxAttempts, &d.LastError, &d.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead event: %w", err)
		}
		d.Topic = event.Topic(topicStr)
		if d.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Requeue moves a dead event back into the queue with a fresh attempt budget.
func (q *EventQueue) Requeue(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		const restore = `
			WITH revived AS (
				DELETE FROM event_queue_dead WHERE id = $1
				RETURNING id, topic, payload, metadata, dedupe_key, max_attempts, last_error, created_at
			)
			INSERT INTO event_queue (id, topic, payload, metadata, dedupe_key, attempts, max_attempts, available_at, last_error, created_at)
			SELECT id, topic, payload, metadata, dedupe_key, 0, max_attempts, NOW(), last_error, created_at
			FROM revived
			ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
		`
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM event_queue_dead WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("find dead event %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("requeue %s: %w", id, outbox.ErrNotFound)
		}

		tag, err := tx.Exec(ctx, restore, id)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			// Rolled back by BeginFunc, the dead row stays.
			return fmt.Errorf("requeue %s: %w", id, outbox.ErrDuplicate)
		}
		return nil
	})
}

// TopicStats is the queue depth of one topic.
type TopicStats struct {
	Topic   event.Topic `json:"topic"`
	Ready   int         `json:"ready"`
	Locked  int         `json:"locked"`
	Delayed int         `json:"delayed"`
	Dead    int         `json:"dead"`
}

func (q *EventQueue) Stats(ctx context.Context) ([]TopicStats, error) {
	const sql = `
		SELECT topic,
			COUNT(*) FILTER (WHERE locked_at IS NULL AND available_at <= NOW()),
			COUNT(*) FILTER (WHERE locked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE locked_at IS NULL AND available_at > NOW()),
			0
		FROM event_queue
		GROUP BY topic
		UNION ALL
		SELECT topic, 0, 0, 0, COUNT(*)
		FROM event_queue_dead
		GROUP BY topic
	`
	rows, err := q.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query queue stats: %w", err)
	}
	defer rows.Close()

	byTopic := make(map[event.Topic]*TopicStats)
	for rows.Next() {
		var (
			topicStr                     string
			ready, locked, delayed, dead int
		)
		if err := rows.Scan(&topicStr, &ready, &locked, &delayed, &dead); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		t := event.Topic(topicStr)
		s, ok := byTopic[t]
		if !ok {
			s = &TopicStats{Topic: t}
			byTopic[t] = s
		}
		s.Ready += ready
		s.Locked += locked
		s.Delayed += delayed
		s.Dead += dead
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TopicStats, 0, len(byTopic))
	for _, s := range byTopic {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}

func unmarshalMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}
