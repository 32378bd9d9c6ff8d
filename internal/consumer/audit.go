package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/shipment"
)

const (
	auditConsumer = "audit-logger"
	systemActor   = "system"
)

// AuditLogger appends one audit entry per shipment event. Redeliveries
// are absorbed by the inbox, which is written in the same transaction.
type AuditLogger struct {
	repo   audit.Repository
	inbox  Inbox
	tx     Transactor
	logger *slog.Logger
}

func NewAuditLogger(repo audit.Repository, inbox Inbox, tx Transactor, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{repo: repo, inbox: inbox, tx: tx, logger: logger}
}

func (a *AuditLogger) Handle(ctx context.Context, ev event.Queued) error {
	payload, err := event.DecodePayload[shipment.ChangePayload](ev.Message)
	if err != nil {
		return err
	}
	cur := payload.Current

	return a.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		fresh, err := a.inbox.SaveIfNotExists(ctx, auditConsumer, ev.ID, string(ev.Topic), cur.PONumber)
		if err != nil {
			return err
		}
		if !fresh {
			a.logger.Debug("audit already recorded", "event_id", ev.ID, "topic", ev.Topic)
			return nil
		}

		meta := map[string]any{
			"event_id":        ev.ID,
			"po_number":       cur.PONumber,
			"tracking_number": cur.TrackingNumber,
			"status":          string(cur.Status),
		}
		if payload.Previous != nil {
			meta["previous_status"] = string(payload.Previous.Status)
		}
		entry := &audit.Entry{
			EntityType: audit.EntityShipment,
			EntityID:   cur.ShipmentID,
			Action:     string(ev.Topic),
			Actor:      systemActor,
			Metadata:   meta,
			Status:     audit.StatusSuccess,
		}
		if err := a.repo.Create(ctx, entry); err != nil {
			return fmt.Errorf("create audit entry: %w", err)
		}
		return nil
	})
}
