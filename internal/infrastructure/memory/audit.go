package memory

import (
	"context"
	"reflect"
	"sync"
	"time"

	"shiptrack/internal/domain/audit"

	"github.com/google/uuid"
)

// AuditRepository keeps entries in insertion order. Stored entries are
// copies, so callers cannot mutate history.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(_ context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(e)
	return nil
}

func (r *AuditRepository) CreateMany(_ context.Context, entries []*audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.append(e)
	}
	return nil
}

// GetHistory returns matches newest first.
func (r *AuditRepository) GetHistory(_ context.Context, q audit.Query) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*audit.Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !matches(r.entries[i], q) {
			continue
		}
		e := r.entries[i]
		out = append(out, &e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (r *AuditRepository) HasAction(ctx context.Context, q audit.Query) (bool, error) {
	n, err := r.Count(ctx, q)
	return n > 0, err
}

func (r *AuditRepository) GetLatest(ctx context.Context, q audit.Query) (*audit.Entry, error) {
	q.Limit = 1
	entries, err := r.GetHistory(ctx, q)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (r *AuditRepository) Count(_ context.Context, q audit.Query) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if matches(e, q) {
			n++
		}
	}
	return n, nil
}

func (r *AuditRepository) append(e *audit.Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	if e.Metadata != nil {
		stored.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			stored.Metadata[k] = v
		}
	}
	r.entries = append(r.entries, stored)
}

func matches(e audit.Entry, q audit.Query) bool {
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.EntityID != q.EntityID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	for k, want := range q.Metadata {
		got, ok := e.Metadata[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
