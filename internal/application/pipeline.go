package application

import (
	"fmt"
	"log/slog"

	"shiptrack/internal/consumer"
	"shiptrack/internal/domain/audit"
	"shiptrack/internal/domain/notification"
	"shiptrack/internal/domain/outbox"
	"shiptrack/internal/eventbus"
	"shiptrack/internal/infrastructure/memory"
	"shiptrack/internal/usecase"
	"shiptrack/internal/worker"
)

// Store is the persistence a pipeline needs for shipments and orders.
type Store interface {
	usecase.ShipmentStore
	usecase.OrderStore
}

// Deps are the adapters a Pipeline is assembled from. Producer and Cache
// are optional; their subscriptions are skipped when nil.
type Deps struct {
	Logger        *slog.Logger
	Queue         outbox.Queue
	Tx            usecase.Transactor
	Shipments     usecase.ShipmentStore
	Orders        usecase.OrderStore
	Audit         audit.Repository
	Inbox         consumer.Inbox
	Notifier      notification.Service
	Producer      consumer.Producer
	Cache         usecase.OrderCache
	Tenant        string
	OpsRecipients []string
}

// Pipeline is one fully wired instance of the event pipeline. Instances
// share nothing, so several can live in one process.
type Pipeline struct {
	Bus        *eventbus.Bus
	Registry   *eventbus.Registry
	Publisher  *eventbus.Publisher
	Dispatcher *worker.Dispatcher

	RecordObservation  *usecase.RecordObservation
	LinkThread         *usecase.LinkThread
	GetOrder           *usecase.GetOrder
	GetShipmentHistory *usecase.GetShipmentHistory
	OrderSync          *usecase.OrderSync
	CatchUp            *consumer.CatchUpNotifier
}

func NewPipeline(d Deps) (*Pipeline, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Queue == nil || d.Tx == nil || d.Shipments == nil || d.Orders == nil || d.Audit == nil || d.Inbox == nil || d.Notifier == nil {
		return nil, fmt.Errorf("pipeline: missing required dependency")
	}

	bus := eventbus.NewBus(d.Logger)
	registry := eventbus.NewRegistry(bus, d.Logger)
	publisher := eventbus.NewPublisher(d.Queue, registry, bus, d.Logger)
	orderSync := usecase.NewOrderSync(d.Shipments, d.Orders, d.Cache, d.Logger)
	catchUp := consumer.NewCatchUpNotifier(d.Shipments, d.Audit, d.Notifier, d.Tenant, d.Logger)

	p := &Pipeline{
		Bus:        bus,
		Registry:   registry,
		Publisher:  publisher,
		Dispatcher: worker.NewDispatcher(d.Queue, registry, d.Logger),

		RecordObservation:  usecase.NewRecordObservation(d.Tx, d.Shipments, publisher, d.Logger),
		LinkThread:         usecase.NewLinkThread(d.Orders, orderSync, catchUp, d.Audit, d.Cache, d.Logger),
		GetOrder:           usecase.NewGetOrder(d.Orders, d.Cache, d.Logger),
		GetShipmentHistory: usecase.NewGetShipmentHistory(d.Shipments, d.Orders, d.Audit),
		OrderSync:          orderSync,
		CatchUp:            catchUp,
	}

	if err := subscribe(registry, d, orderSync); err != nil {
		return nil, err
	}
	return p, nil
}

// MemoryDeps builds dependencies backed entirely by in-process stores.
func MemoryDeps(notifier notification.Service, queueOpts []memory.QueueOption, logger *slog.Logger) Deps {
	store := memory.NewShipmentRepository()
	return Deps{
		Logger:    logger,
		Queue:     memory.NewQueue(queueOpts...),
		Tx:        memory.NoTx{},
		Shipments: store,
		Orders:    store,
		Audit:     memory.NewAuditRepository(),
		Inbox:     memory.NewInbox(),
		Notifier:  notification.NewIdempotent(notifier, memory.NewKeyStore(), logger),
	}
}
