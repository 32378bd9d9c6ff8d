package api

import (
	"net/http"

	"shiptrack/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// NewRouter mounts the ingest, order and queue operation routes. A nil
// redisClient disables the idempotency middleware.
func NewRouter(h *Handlers, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/shipments", func(r chi.Router) {
		r.With(middleware.Idempotency(redisClient)).Post("/observations", h.RecordObservation)
		r.Get("/{id}", h.GetShipment)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/sync", h.SyncOrders)
		r.Get("/{id}", h.GetOrder)
		r.With(middleware.Idempotency(redisClient)).Post("/{id}/thread", h.LinkThread)
	})

	r.Post("/dispatch/{topic}", h.Dispatch)

	r.Route("/queue/dead", func(r chi.Router) {
		r.Get("/", h.ListDead)
		r.Post("/{id}/requeue", h.RequeueDead)
	})

	return r
}
