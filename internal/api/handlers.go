package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"shiptrack/internal/domain/event"
	"shiptrack/internal/domain/order"
	"shiptrack/internal/domain/outbox"
	"shiptrack/internal/domain/shipment"
	"shiptrack/internal/usecase"
	"shiptrack/internal/worker"

	"github.com/go-chi/chi/v5"
)

// EventDispatcher is satisfied by worker.Dispatcher.
type EventDispatcher interface {
	DispatchEvents(ctx context.Context, topic event.Topic, opts outbox.ClaimOptions) (worker.DispatchResult, error)
}

type Handlers struct {
	recordObservationUC  *usecase.RecordObservation
	linkThreadUC         *usecase.LinkThread
	getOrderUC           *usecase.GetOrder
	getShipmentHistoryUC *usecase.GetShipmentHistory
	orderSync            order.SyncService
	dispatcher           EventDispatcher
	deadLetters          outbox.DeadLetters
	claimOpts            outbox.ClaimOptions
	logger               *slog.Logger
}

type HandlersConfig struct {
	RecordObservation  *usecase.RecordObservation
	LinkThread         *usecase.LinkThread
	GetOrder           *usecase.GetOrder
	GetShipmentHistory *usecase.GetShipmentHistory
	OrderSync          order.SyncService
	Dispatcher         EventDispatcher
	DeadLetters        outbox.DeadLetters
	ClaimOptions       outbox.ClaimOptions
	Logger             *slog.Logger
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		recordObservationUC:  cfg.RecordObservation,
		linkThreadUC:         cfg.LinkThread,
		getOrderUC:           cfg.GetOrder,
		getShipmentHistoryUC: cfg.GetShipmentHistory,
		orderSync:            cfg.OrderSync,
		dispatcher:           cfg.Dispatcher,
		deadLetters:          cfg.DeadLetters,
		claimOpts:            cfg.ClaimOptions,
		logger:               logger,
	}
}

func (h *Handlers) RecordObservation(w http.ResponseWriter, r *http.Request) {
	var obs usecase.Observation
	if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.recordObservationUC.Execute(r.Context(), obs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handlers) GetShipment(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	dto, err := h.getShipmentHistoryUC.Execute(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	noCache(w)
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handlers) LinkThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.linkThreadUC.Execute(r.Context(), chi.URLParam(r, "id"), req.ThreadID)
	if err != nil && res == nil {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		// The link is stored; only part of the catch-up failed.
		h.logger.Error("catch-up incomplete", "order_id", chi.URLParam(r, "id"), "error", err)
		writeJSON(w, http.StatusMultiStatus, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.getOrderUC.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	noCache(w)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handlers) SyncOrders(w http.ResponseWriter, r *http.Request) {
	n, err := h.orderSync.SyncAll(r.Context())
	if err != nil {
		h.logger.Error("order resync incomplete", "synced", n, "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]any{"synced": n, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": n})
}

// Dispatch runs one dispatch cycle for a topic, for external schedulers.
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	topic := event.Topic(chi.URLParam(r, "topic"))
	if !topic.Valid() {
		writeError(w, http.StatusNotFound, "unknown topic")
		return
	}
	opts := h.claimOpts
	if v, err := strconv.Atoi(r.URL.Query().Get("batch_size")); err == nil && v > 0 {
		opts.BatchSize = v
	}

	res, err := h.dispatcher.DispatchEvents(r.Context(), topic, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListDead(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	dead, err := h.deadLetters.ListDead(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if dead == nil {
		dead = []outbox.DeadEvent{}
	}
	writeJSON(w, http.StatusOK, dead)
}

func (h *Handlers) RequeueDead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deadLetters.Requeue(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued", "id": id})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrInvalidObservation),
		errors.Is(err, usecase.ErrInvalidThread),
		errors.Is(err, shipment.ErrUnknownStatus):
		status = http.StatusBadRequest
	case errors.Is(err, shipment.ErrInvalidTransition),
		errors.Is(err, outbox.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, shipment.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, outbox.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
