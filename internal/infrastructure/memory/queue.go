package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/outbox"

	"github.com/google/uuid"
)

// Queue is an in-process outbox. All operations hold one mutex, which makes
// Claim's select-and-lock atomic.
type Queue struct {
	mu           sync.Mutex
	events       map[string]*event.Queued
	createdSeq   map[string]int64
	dedupe       map[string]string
	dead         map[string]outbox.DeadEvent
	seq          int64
	maxAttempts  int
	retryBackoff time.Duration
	now          func() time.Time
}

type QueueOption func(*Queue)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func WithRetryBackoff(d time.Duration) QueueOption {
	return func(q *Queue) { q.retryBackoff = d }
}

func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		events:      make(map[string]*event.Queued),
		createdSeq:  make(map[string]int64),
		dedupe:      make(map[string]string),
		dead:        make(map[string]outbox.DeadEvent),
		maxAttempts: outbox.DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(_ context.Context, msg event.Message) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if msg.DedupeKey != "" {
		if _, ok := q.dedupe[msg.DedupeKey]; ok {
			return "", outbox.ErrDuplicate
		}
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = q.maxAttempts
	}

	availableAt := q.now().UTC()
	if msg.ScheduledFor != nil && msg.ScheduledFor.After(availableAt) {
		availableAt = msg.ScheduledFor.UTC()
	}

	id := uuid.NewString()
	q.seq++
	q.events[id] = &event.Queued{
		Message:     msg,
		ID:          id,
		AvailableAt: availableAt,
	}
	q.createdSeq[id] = q.seq
	if msg.DedupeKey != "" {
		q.dedupe[msg.DedupeKey] = id
	}
	return id, nil
}

func (q *Queue) Claim(_ context.Context, topic event.Topic, opts outbox.ClaimOptions) ([]event.Queued, error) {
	opts = opts.WithDefaults()

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	expired := now.Add(-opts.VisibilityTimeout)

	var candidates []*event.Queued
	for _, e := range q.events {
		if e.Topic != topic || e.Dead() || e.AvailableAt.After(now) {
			continue
		}
		if e.LockedAt != nil && e.LockedAt.After(expired) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].AvailableAt.Equal(candidates[j].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[j].AvailableAt)
		}
		return q.createdSeq[candidates[i].ID] < q.createdSeq[candidates[j].ID]
	})
	if len(candidates) > opts.BatchSize {
		candidates = candidates[:opts.BatchSize]
	}

	out := make([]event.Queued, 0, len(candidates))
	for _, e := range candidates {
		lockedAt := now
		e.LockedAt = &lockedAt
		out = append(out, *e)
	}
	return out, nil
}

func (q *Queue) MarkCompleted(_ context.Context, ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.remove(id)
	}
	return nil
}

func (q *Queue) MarkFailed(_ context.Context, id string, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.events[id]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", id, outbox.ErrNotFound)
	}
	now := q.now().UTC()
	e.Attempts++
	e.LastError = outbox.TruncateError(message)
	e.LockedAt = nil
	e.AvailableAt = now.Add(outbox.Backoff(q.retryBackoff, e.Attempts))

	if e.Dead() {
		q.dead[id] = outbox.DeadEvent{Queued: *e, FailedAt: now}
		q.remove(id)
	}
	return nil
}

func (q *Queue) ListDead(_ context.Context, limit int) ([]outbox.DeadEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]outbox.DeadEvent, 0, len(q.dead))
	for _, d := range q.dead {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queue) Requeue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.dead[id]
	if !ok {
		return fmt.Errorf("requeue %s: %w", id, outbox.ErrNotFound)
	}
	if d.DedupeKey != "" {
		if _, taken := q.dedupe[d.DedupeKey]; taken {
			return fmt.Errorf("requeue %s: %w", id, outbox.ErrDuplicate)
		}
		q.dedupe[d.DedupeKey] = id
	}
	e := d.Queued
	e.Attempts = 0
	e.LockedAt = nil
	e.AvailableAt = q.now().UTC()
	q.seq++
	q.events[id] = &e
	q.createdSeq[id] = q.seq
	delete(q.dead, id)
	return nil
}

// Pending returns the number of live events for topic.
func (q *Queue) Pending(topic event.Topic) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

func (q *Queue) remove(id string) {
	e, ok := q.events[id]
	if !ok {
		return
	}
	if e.DedupeKey != "" && q.dedupe[e.DedupeKey] == id {
		delete(q.dedupe, e.DedupeKey)
	}
	delete(q.events, id)
	delete(q.createdSeq, id)
}
