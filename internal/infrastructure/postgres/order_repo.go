package postgres

import (
	"context"
	"errors"
	"fmt"

	"shiptrack/internal/domain/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// SaveOrder upserts the recomputed aggregate. thread_id is owned by
// LinkThread and never touched here.
func (r *OrderRepository) SaveOrder(ctx context.Context, o order.Order) error {
	const sql = `
		INSERT INTO orders (id, status, total, pending, in_transit, out_for_delivery, delivered, exception, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			total = EXCLUDED.total,
			pending = EXCLUDED.pending,
			in_transit = EXCLUDED.in_transit,
			out_for_delivery = EXCLUDED.out_for_delivery,
			delivered = EXCLUDED.delivered,
			exception = EXCLUDED.exception,
			updated_at = EXCLUDED.updated_at
	`
	c := o.Counts
	_, err := conn(ctx, r.pool).Exec(ctx, sql,
		o.ID, string(o.Status), c.Total, c.Pending, c.InTransit, c.OutForDelivery, c.Delivered, c.Exception, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	const sql = `
		SELECT id, status, total, pending, in_transit, out_for_delivery, delivered, exception,
			COALESCE(thread_id, ''), updated_at
		FROM orders
		WHERE id = $1
	`
	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, order.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// ListOrderIDs returns every PO number known from shipments or orders.
func (r *OrderRepository) ListOrderIDs(ctx context.Context) ([]string, error) {
	const sql = `
		SELECT po_number FROM shipments WHERE po_number IS NOT NULL AND po_number <> ''
		UNION
		SELECT id FROM orders
		ORDER BY 1
	`
	rows, err := conn(ctx, r.pool).Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list order ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan order ids: %w", err)
	}
	return ids, nil
}

// LinkThread attaches threadID to the order, creating a pending order if
// none was synced yet.
func (r *OrderRepository) LinkThread(ctx context.Context, orderID, threadID string) (*order.Order, error) {
	const sql = `
		INSERT INTO orders (id, status, thread_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET thread_id = EXCLUDED.thread_id, updated_at = NOW()
		RETURNING id, status, total, pending, in_transit, out_for_delivery, delivered, exception,
			COALESCE(thread_id, ''), updated_at
	`
	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, sql, orderID, string(order.StatusPending), threadID))
	if err != nil {
		return nil, fmt.Errorf("link thread: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &status, &o.Counts.Total, &o.Counts.Pending, &o.Counts.InTransit,
		&o.Counts.OutForDelivery, &o.Counts.Delivered, &o.Counts.Exception, &o.ThreadID, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	return &o, nil
}
