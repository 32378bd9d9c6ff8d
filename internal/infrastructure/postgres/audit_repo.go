package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shiptrack/internal/domain/audit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository is append-only: there is no update or delete.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

const insertAudit = `
	INSERT INTO audit_entries (id, entity_type, entity_id, action, actor, metadata, status, error, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func (r *AuditRepository) Create(ctx context.Context, e *audit.Entry) error {
	args, err := auditArgs(e)
	if err != nil {
		return err
	}
	if _, err := conn(ctx, r.pool).Exec(ctx, insertAudit, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) CreateMany(ctx context.Context, entries []*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		args, err := auditArgs(e)
		if err != nil {
			return err
		}
		batch.Queue(insertAudit, args...)
	}

	var br pgx.BatchResults
	if tx := GetTx(ctx); tx != nil {
		br = tx.SendBatch(ctx, batch)
	} else {
		br = r.pool.SendBatch(ctx, batch)
	}
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert audit batch: %w", err)
		}
	}
	return nil
}

// GetHistory returns matching entries newest first.
func (r *AuditRepository) GetHistory(ctx context.Context, q audit.Query) ([]*audit.Entry, error) {
	where, args, err := auditFilter(q)
	if err != nil {
		return nil, err
	}
	sql := `
		SELECT id::text, entity_type, entity_id, action, actor, metadata, status, COALESCE(error, ''), created_at
		FROM audit_entries` + where + `
		ORDER BY created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			meta   []byte
			status string
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor, &meta, &status, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Status = audit.Status(status)
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) HasAction(ctx context.Context, q audit.Query) (bool, error) {
	where, args, err := auditFilter(q)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audit_entries`+where+`)`, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check audit action: %w", err)
	}
	return exists, nil
}

func (r *AuditRepository) GetLatest(ctx context.Context, q audit.Query) (*audit.Entry, error) {
	q.Limit = 1
	entries, err := r.GetHistory(ctx, q)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (r *AuditRepository) Count(ctx context.Context, q audit.Query) (int, error) {
	where, args, err := auditFilter(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func auditArgs(e *audit.Entry) ([]any, error) {
	if e.EntityType == "" || e.EntityID == "" || e.Action == "" {
		return nil, errors.New("audit entry requires entity type, entity id and action")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = audit.StatusSuccess
	}
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = raw
	}
	return []any{e.ID, e.EntityType, e.EntityID, e.Action, e.Actor, meta, string(e.Status), nullIfEmpty(e.Error), e.CreatedAt}, nil
}

// auditFilter builds the WHERE clause for q. Metadata uses jsonb
// containment, served by the GIN index.
func auditFilter(q audit.Query) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.EntityType != "" {
		add("entity_type = $%d", q.EntityType)
	}
	if q.EntityID != "" {
		add("entity_id = $%d", q.EntityID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if len(q.Metadata) > 0 {
		raw, err := json.Marshal(q.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("marshal metadata filter: %w", err)
		}
		add("metadata @> $%d::jsonb", string(raw))
	}
	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
