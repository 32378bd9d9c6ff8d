package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/notification"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"

	"github.com/google/uuid"
)

type CatchUpResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// CatchUpNotifier backfills the notifications that were withheld while an
// order had no communication thread. Audit history, not the event queue,
// decides what was already sent: there is no queued event to dedupe
// against once the transitions themselves have completed.
type CatchUpNotifier struct {
	shipments ShipmentLister
	audit     audit.Repository
	notifier  notification.Service
	tenant    string
	logger    *slog.Logger
}

func NewCatchUpNotifier(shipments ShipmentLister, auditRepo audit.Repository, notifier notification.Service, tenant string, logger *slog.Logger) *CatchUpNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatchUpNotifier{
		shipments: shipments,
		audit:     auditRepo,
		notifier:  notifier,
		tenant:    tenant,
		logger:    logger,
	}
}

// Notify sends at most one notification per shipment of ord, for the most
// relevant type implied by the shipment's current status.
func (c *CatchUpNotifier) Notify(ctx context.Context, ord order.Order) (CatchUpResult, error) {
	var res CatchUpResult
	if !ord.HasThread() {
		return res, nil
	}

	shipments, err := c.shipments.ListByOrder(ctx, ord.ID)
	if err != nil {
		return res, fmt.Errorf("list shipments of order %s: %w", ord.ID, err)
	}

	// Most relevant first, so a partial failure still delivers what matters.
	sort.SliceStable(shipments, func(i, j int) bool {
		return notification.Priority(notification.ForCurrentStatus(shipments[i].Status)) >
			notification.Priority(notification.ForCurrentStatus(shipments[j].Status))
	})

	var errs []error
	for _, s := range shipments {
		sent, err := c.notifyShipment(ctx, ord, s)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, err)
		case sent:
			res.Sent++
		default:
			res.Skipped++
		}
	}

	c.logger.Info("catch-up finished", "order_id", ord.ID, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	return res, errors.Join(errs...)
}

func (c *CatchUpNotifier) notifyShipment(ctx context.Context, ord order.Order, s shipment.Snapshot) (bool, error) {
	typ := notification.ForCurrentStatus(s.Status)
	if typ == notification.TypePending {
		// Nothing has happened to the shipment yet.
		return false, nil
	}

	already, err := c.audit.HasAction(ctx, audit.Query{
		EntityType: audit.EntityShipment,
		EntityID:   s.ShipmentID,
		Action:     audit.ActionNotificationSent,
		Metadata:   map[string]any{"notification_type": string(typ)},
	})
	if err != nil {
		return false, fmt.Errorf("check audit for shipment %s: %w", s.ShipmentID, err)
	}
	if already {
		c.logger.Debug("notification already sent, catch-up skipped", "shipment_id", s.ShipmentID, "type", typ)
		return false, nil
	}

	opts := notification.TriggerOptions{
		IdempotencyKey:  uuid.NewString(),
		CancellationKey: cancellationKey(s.ShipmentID),
		Tenant:          c.tenant,
		Actor:           systemActor,
	}
	result := c.notifier.TriggerForObject(ctx, typ.Workflow(), notification.CollectionShipments, s.ShipmentID, notificationData(s, ord, typ, true), opts)
	if err := recordNotification(ctx, c.audit, s.ShipmentID, typ, result, map[string]any{
		"isCatchup":    true,
		"last_checked": s.LastChecked.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		c.logger.Error("failed to audit catch-up notification", "shipment_id", s.ShipmentID, "error", err)
	}
	if result.Err != nil {
		return false, fmt.Errorf("catch-up %s for shipment %s: %w", typ, s.ShipmentID, result.Err)
	}
	return true, nil
}
