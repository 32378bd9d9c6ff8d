package application

import (
	"fmt"

	"shiptrack/internal/consumer"
	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/eventbus"
)

// Phases order durable subscriptions on one topic. The order aggregate is
// recomputed before the customer notifier reads the order's thread.
const (
	phaseRecord = 0
	phaseNotify = 1
)

type binding struct {
	topics []event.Topic
	sub    eventbus.Subscription
}

func subscribe(r *eventbus.Registry, d Deps, sync order.SyncService) error {
	auditLogger := consumer.NewAuditLogger(d.Audit, d.Inbox, d.Tx, d.Logger)
	orderStatus := consumer.NewOrderStatusSync(sync, d.Logger)
	customer := consumer.NewCustomerNotifier(d.Notifier, d.Orders, d.Shipments, d.Audit, d.Tenant, d.Logger)
	internal := consumer.NewInternalNotifier(d.Notifier, d.OpsRecipients, d.Tenant, d.Logger)

	bindings := []binding{
		{event.Topics, eventbus.Subscription{Name: "audit-logger", Phase: phaseRecord, Handler: auditLogger.Handle}},
		{[]event.Topic{event.TopicShipmentCreated, event.TopicShipmentStatusChanged}, eventbus.Subscription{Name: "order-status-sync", Phase: phaseRecord, Handler: orderStatus.Handle}},
		{[]event.Topic{event.TopicShipmentStatusChanged}, eventbus.Subscription{Name: "customer-notifier", Phase: phaseNotify, Handler: customer.Handle}},
		{[]event.Topic{event.TopicShipmentException}, eventbus.Subscription{Name: "internal-notifier", Phase: phaseNotify, Handler: internal.Handle}},
	}
	if d.Producer != nil {
		orderSystem := consumer.NewOrderSystemSync(d.Producer, d.Inbox, d.Logger)
		bindings = append(bindings, binding{
			[]event.Topic{event.TopicShipmentUpdated},
			eventbus.Subscription{Name: "order-system-sync", Phase: phaseRecord, Handler: orderSystem.Handle},
		})
	}
	if d.Cache != nil {
		invalidator := consumer.NewOrderCacheInvalidator(d.Cache, d.Logger)
		bindings = append(bindings, binding{
			[]event.Topic{event.TopicShipmentUpdated},
			eventbus.Subscription{Name: "order-cache-invalidator", Mode: eventbus.Immediate, Handler: invalidator.Handle},
		})
	}

	for _, b := range bindings {
		for _, topic := range b.topics {
			if _, err := r.Subscribe(topic, b.sub); err != nil {
				return fmt.Errorf("wire %s: %w", b.sub.Name, err)
			}
		}
	}
	return nil
}
