package postgres

import (
	"context"
	"errors"
	"fmt"

	"shiptrack/internal/domain/shipment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ShipmentRepository struct {
	pool *pgxpool.Pool
}

func NewShipmentRepository(pool *pgxpool.Pool) *ShipmentRepository {
	return &ShipmentRepository{pool: pool}
}

const shipmentColumns = `
	id, tracking_number, status, COALESCE(carrier, ''), COALESCE(po_number, ''), COALESCE(supplier, ''),
	shipped_date, delivered_date, estimated_delivery, last_checked
`

// GetSnapshot reads the stored shipment. Inside a transaction it first takes
// a transaction-scoped advisory lock on the id, so concurrent observations of
// one shipment diff in sequence even before its row exists. The lock is a
// separate statement: the read that follows sees whatever the previous holder
// committed.
func (r *ShipmentRepository) GetSnapshot(ctx context.Context, id string) (*shipment.Snapshot, error) {
	sql := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`
	if tx := GetTx(ctx); tx != nil {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "shipment:"+id); err != nil {
			return nil, fmt.Errorf("lock shipment %s: %w", id, err)
		}
		sql += ` FOR UPDATE`
	}
	s, err := scanShipment(conn(ctx, r.pool).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shipment %s: %w", id, shipment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	return s, nil
}

func (r *ShipmentRepository) Upsert(ctx context.Context, s shipment.Snapshot) error {
	const sql = `
		INSERT INTO shipments (id, tracking_number, status, carrier, po_number, supplier,
			shipped_date, delivered_date, estimated_delivery, last_checked, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE
		SET tracking_number = EXCLUDED.tracking_number,
			status = EXCLUDED.status,
			carrier = EXCLUDED.carrier,
			po_number = EXCLUDED.po_number,
			supplier = EXCLUDED.supplier,
			shipped_date = EXCLUDED.shipped_date,
			delivered_date = EXCLUDED.delivered_date,
			estimated_delivery = EXCLUDED.estimated_delivery,
			last_checked = EXCLUDED.last_checked,
			updated_at = NOW()
	`
	_, err := conn(ctx, r.pool).Exec(ctx, sql,
		s.ShipmentID, s.TrackingNumber, string(s.Status), nullIfEmpty(s.Carrier), nullIfEmpty(s.PONumber), nullIfEmpty(s.Supplier),
		s.ShippedDate, s.DeliveredDate, s.EstimatedDelivery, s.LastChecked)
	if err != nil {
		return fmt.Errorf("upsert shipment: %w", err)
	}
	return nil
}

func (r *ShipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]shipment.Snapshot, error) {
	sql := `SELECT ` + shipmentColumns + ` FROM shipments WHERE po_number = $1 ORDER BY id`
	rows, err := conn(ctx, r.pool).Query(ctx, sql, orderID)
	if err != nil {
		return nil, fmt.Errorf("query shipments by order: %w", err)
	}
	defer rows.Close()

	var out []shipment.Snapshot
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *ShipmentRepository) OrderIDForShipment(ctx context.Context, shipmentID string) (string, error) {
	var po string
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COALESCE(po_number, '') FROM shipments WHERE id = $1`, shipmentID).Scan(&po)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("shipment %s: %w", shipmentID, shipment.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get order id for shipment: %w", err)
	}
	return po, nil
}

func scanShipment(row pgx.Row) (*shipment.Snapshot, error) {
	var (
		s      shipment.Snapshot
		status string
	)
	err := row.Scan(&s.ShipmentID, &s.TrackingNumber, &status, &s.Carrier, &s.PONumber, &s.Supplier,
		&s.ShippedDate, &s.DeliveredDate, &s.EstimatedDelivery, &s.LastChecked)
	if err != nil {
		return nil, err
	}
	s.Status = shipment.Status(status)
	return &s, nil
}
