package usecase

import (
	"context"
	"errors"
	"fmt"

	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

const defaultHistoryLimit = 50

// ShipmentHistoryDTO is the full trail of one shipment: its current
// snapshot, the order it rolls up into and its audit entries.
type ShipmentHistoryDTO struct {
	Shipment *shipment.Snapshot `json:"shipment"`
	Order    *order.Order       `json:"order,omitempty"`
	Audit    []*audit.Entry     `json:"audit"`
}

type GetShipmentHistory struct {
	shipments ShipmentStore
	orders    OrderStore
	audit     audit.Repository
}

func NewGetShipmentHistory(shipments ShipmentStore, orders OrderStore, auditRepo audit.Repository) *GetShipmentHistory {
	return &GetShipmentHistory{shipments: shipments, orders: orders, audit: auditRepo}
}

func (uc *GetShipmentHistory) Execute(ctx context.Context, shipmentID string, limit int) (*ShipmentHistoryDTO, error) {
	s, err := uc.shipments.GetSnapshot(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	dto := &ShipmentHistoryDTO{Shipment: s}

	if s.PONumber != "" {
		o, err := uc.orders.GetOrder(ctx, s.PONumber)
		if err != nil && !errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		dto.Order = o
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	dto.Audit, err = uc.audit.GetHistory(ctx, audit.Query{
		EntityType: audit.EntityShipment,
		EntityID:   shipmentID,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get audit history: %w", err)
	}
	return dto, nil
}
