package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/notification"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/shipment"
)

// CustomerNotifier sends the customer-facing notification for a status
// transition, provided the order has a communication thread to send into.
type CustomerNotifier struct {
	notifier  notification.Service
	orders    OrderReader
	shipments ShipmentReader
	audit     audit.Repository
	tenant    string
	logger    *slog.Logger
}

func NewCustomerNotifier(notifier notification.Service, orders OrderReader, shipments ShipmentReader, auditRepo audit.Repository, tenant string, logger *slog.Logger) *CustomerNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerNotifier{
		notifier:  notifier,
		orders:    orders,
		shipments: shipments,
		audit:     auditRepo,
		tenant:    tenant,
		logger:    logger,
	}
}

func (n *CustomerNotifier) Handle(ctx context.Context, ev event.Queued) error {
	payload, err := event.DecodePayload[shipment.ChangePayload](ev.Message)
	if err != nil {
		return err
	}
	if !payload.StatusChanged() {
		return nil
	}
	cur := payload.Current
	typ, ok := notification.ForTransition(payload.Previous.Status, cur.Status)
	if !ok {
		return nil
	}

	ord, err := n.orders.GetOrder(ctx, cur.PONumber)
	if errors.Is(err, order.ErrNotFound) {
		n.logger.Info("no order for shipment, notification skipped", "shipment_id", cur.ShipmentID, "po_number", cur.PONumber)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get order %s: %w", cur.PONumber, err)
	}
	if !ord.HasThread() {
		// Caught up by CatchUpNotifier once a thread gets linked.
		n.logger.Info("order has no thread, notification deferred", "shipment_id", cur.ShipmentID, "order_id", ord.ID, "type", typ)
		return nil
	}

	covered, err := n.alreadyCovered(ctx, cur, typ)
	if err != nil {
		return err
	}
	if covered {
		return nil
	}

	cancelKey := cancellationKey(cur.ShipmentID)
	for _, old := range notification.Supersedes(typ) {
		if res := n.notifier.CancelWorkflow(ctx, old.Workflow(), cancelKey); res.Err != nil {
			n.logger.Warn("failed to cancel superseded workflow", "shipment_id", cur.ShipmentID, "workflow", old.Workflow(), "error", res.Err)
		}
	}

	data := notificationData(cur, *ord, typ, false)
	data["previous_status"] = string(payload.Previous.Status)
	opts := notification.TriggerOptions{
		IdempotencyKey:  fmt.Sprintf("%s:%s:%s", ev.ID, cur.ShipmentID, typ),
		CancellationKey: cancelKey,
		Tenant:          n.tenant,
		Actor:           systemActor,
	}

	res := n.notifier.TriggerForObject(ctx, typ.Workflow(), notification.CollectionShipments, cur.ShipmentID, data, opts)
	if res.Skipped {
		return nil
	}
	if err := recordNotification(ctx, n.audit, cur.ShipmentID, typ, res, map[string]any{"event_id": ev.ID}); err != nil {
		n.logger.Error("failed to audit notification", "shipment_id", cur.ShipmentID, "type", typ, "error", err)
	}
	if res.Err != nil {
		return fmt.Errorf("trigger %s for shipment %s: %w", typ, cur.ShipmentID, res.Err)
	}
	return nil
}

// alreadyCovered reports whether typ no longer needs sending: either the
// shipment has since moved to a state with a different notification, or a
// catch-up run already sent typ for this observation or a later one.
func (n *CustomerNotifier) alreadyCovered(ctx context.Context, cur shipment.Snapshot, typ notification.Type) (bool, error) {
	stored, err := n.shipments.GetSnapshot(ctx, cur.ShipmentID)
	switch {
	case errors.Is(err, shipment.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("get shipment %s: %w", cur.ShipmentID, err)
	case notification.ForCurrentStatus(stored.Status) != typ:
		n.logger.Info("shipment moved on, notification skipped", "shipment_id", cur.ShipmentID, "type", typ, "status", stored.Status)
		return true, nil
	}

	latest, err := n.audit.GetLatest(ctx, audit.Query{
		EntityType: audit.EntityShipment,
		EntityID:   cur.ShipmentID,
		Action:     audit.ActionNotificationSent,
		Metadata:   map[string]any{"notification_type": string(typ), "isCatchup": true},
	})
	if err != nil {
		return false, fmt.Errorf("check catch-up audit for shipment %s: %w", cur.ShipmentID, err)
	}
	if latest == nil {
		return false, nil
	}
	// Entries without a timestamp predate it and cover everything.
	raw, _ := latest.Metadata["last_checked"].(string)
	sentFor, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil || !sentFor.Before(cur.LastChecked) {
		n.logger.Info("already sent by catch-up, notification skipped", "shipment_id", cur.ShipmentID, "type", typ)
		return true, nil
	}
	return false, nil
}

// InternalNotifier alerts the operations team about shipment exceptions.
type InternalNotifier struct {
	notifier   notification.Service
	recipients []string
	tenant     string
	logger     *slog.Logger
}

func NewInternalNotifier(notifier notification.Service, recipients []string, tenant string, logger *slog.Logger) *InternalNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalNotifier{
		notifier:   notifier,
		recipients: recipients,
		tenant:     tenant,
		logger:     logger,
	}
}

func (n *InternalNotifier) Handle(ctx context.Context, ev event.Queued) error {
	if len(n.recipients) == 0 {
		return nil
	}
	payload, err := event.DecodePayload[shipment.ChangePayload](ev.Message)
	if err != nil {
		return err
	}
	cur := payload.Current

	data := map[string]any{
		"shipment_id":     cur.ShipmentID,
		"tracking_number": cur.TrackingNumber,
		"carrier":         cur.Carrier,
		"po_number":       cur.PONumber,
		"supplier":        cur.Supplier,
		"observed_at":     payload.ObservedAt,
	}
	opts := notification.TriggerOptions{
		IdempotencyKey: fmt.Sprintf("%s:%s:ops-alert", ev.ID, cur.ShipmentID),
		Tenant:         n.tenant,
		Actor:          systemActor,
	}
	res := n.notifier.TriggerForUsers(ctx, notification.WorkflowOpsAlert, n.recipients, data, opts)
	if res.Err != nil {
		return fmt.Errorf("alert ops for shipment %s: %w", cur.ShipmentID, res.Err)
	}
	n.logger.Info("ops alerted", "shipment_id", cur.ShipmentID, "recipients", len(n.recipients), "skipped", res.Skipped)
	return nil
}

func cancellationKey(shipmentID string) string {
	return "shipment:" + shipmentID
}

func notificationData(s shipment.Snapshot, o order.Order, typ notification.Type, catchup bool) map[string]any {
	data := map[string]any{
		"shipment_id":       s.ShipmentID,
		"tracking_number":   s.TrackingNumber,
		"carrier":           s.Carrier,
		"status":            string(s.Status),
		"po_number":         s.PONumber,
		"supplier":          s.Supplier,
		"thread_id":         o.ThreadID,
		"notification_type": string(typ),
		"isCatchup":         catchup,
	}
	if s.EstimatedDelivery != nil {
		data["estimated_delivery"] = s.EstimatedDelivery.UTC()
	}
	if s.DeliveredDate != nil {
		data["delivered_date"] = s.DeliveredDate.UTC()
	}
	return data
}

// recordNotification writes the notification.sent or notification.failed
// entry that later catch-up runs consult.
func recordNotification(ctx context.Context, repo audit.Repository, shipmentID string, typ notification.Type, res notification.Result, extra map[string]any) error {
	meta := map[string]any{"notification_type": string(typ)}
	if res.WorkflowRunID != "" {
		meta["workflow_run_id"] = res.WorkflowRunID
	}
	for k, v := range extra {
		meta[k] = v
	}
	entry := &audit.Entry{
		EntityType: audit.EntityShipment,
		EntityID:   shipmentID,
		Action:     audit.ActionNotificationSent,
		Actor:      systemActor,
		Metadata:   meta,
		Status:     audit.StatusSuccess,
	}
	if res.Err != nil {
		entry.Action = audit.ActionNotificationFailed
		entry.Status = audit.StatusFailure
		entry.Error = res.Err.Error()
	}
	return repo.Create(ctx, entry)
}
