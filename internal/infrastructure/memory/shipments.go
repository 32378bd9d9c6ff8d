package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

// ShipmentRepository stores shipments and their order aggregates.
type ShipmentRepository struct {
	mu        sync.RWMutex
	shipments map[string]shipment.Snapshot
	orders    map[string]order.Order
}

func NewShipmentRepository() *ShipmentRepository {
	return &ShipmentRepository{
		shipments: make(map[string]shipment.Snapshot),
		orders:    make(map[string]order.Order),
	}
}

func (r *ShipmentRepository) GetSnapshot(_ context.Context, id string) (*shipment.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shipments[id]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", id, shipment.ErrNotFound)
	}
	return &s, nil
}

func (r *ShipmentRepository) Upsert(_ context.Context, s shipment.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shipments[s.ShipmentID] = s
	return nil
}

func (r *ShipmentRepository) ListByOrder(_ context.Context, orderID string) ([]shipment.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []shipment.Snapshot
	for _, s := range r.shipments {
		if s.PONumber == orderID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShipmentID < out[j].ShipmentID })
	return out, nil
}

func (r *ShipmentRepository) OrderIDForShipment(_ context.Context, shipmentID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shipments[shipmentID]
	if !ok {
		return "", fmt.Errorf("shipment %s: %w", shipmentID, shipment.ErrNotFound)
	}
	return s.PONumber, nil
}

// SaveOrder stores the recomputed aggregate, keeping any linked thread.
func (r *ShipmentRepository) SaveOrder(_ context.Context, o order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.orders[o.ID]; ok {
		o.ThreadID = existing.ThreadID
	}
	r.orders[o.ID] = o
	return nil
}

func (r *ShipmentRepository) GetOrder(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, order.ErrNotFound)
	}
	return &o, nil
}

func (r *ShipmentRepository) ListOrderIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, s := range r.shipments {
		if s.PONumber != "" {
			seen[s.PONumber] = struct{}{}
		}
	}
	for id := range r.orders {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LinkThread attaches threadID to the order, creating a pending order if
// none was synced yet.
func (r *ShipmentRepository) LinkThread(_ context.Context, orderID, threadID string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		o = order.Order{ID: orderID, Status: order.StatusPending}
	}
	o.ThreadID = threadID
	o.UpdatedAt = time.Now().UTC()
	r.orders[orderID] = o
	return &o, nil
}
