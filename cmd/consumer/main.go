package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiptrack/internal/application"
	"shiptrack/internal/application/factories/infrastructure"
	"shiptrack/internal/config"
	"shiptrack/internal/domain/shipment"
	"shiptrack/internal/infrastructure/kafka"
	"shiptrack/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRetries = 5

var (
	observationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_observations_processed_total",
		Help: "Tracking observations consumed, by outcome",
	}, []string{"outcome"})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_processing_duration_seconds",
		Help:    "Time taken to record one observation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
	})
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("consumer metrics listening", "port", cfg.HTTP.MetricsPort)
		if err := http.ListenAndServe(":"+cfg.HTTP.MetricsPort, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	infra, err := application.PostgresDeps(ctx, infraFactory, cfg, logger)
	if err != nil {
		logger.Error("failed to init infrastructure", "error", err)
		os.Exit(1)
	}
	pipeline, err := application.NewPipeline(infra.Deps)
	if err != nil {
		logger.Error("failed to wire pipeline", "error", err)
		os.Exit(1)
	}

	kafkaConsumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.ObservationsTopic,
		GroupID:     cfg.Kafka.GroupID,
		StartOffset: cfg.Kafka.StartOffset,
	})
	defer kafkaConsumer.Close()

	logger.Info("observation consumer started", "topic", cfg.Kafka.ObservationsTopic, "group_id", cfg.Kafka.GroupID)

	for {
		msg, err := kafkaConsumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("failed to fetch message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		outcome := process(ctx, pipeline.RecordObservation, msg.Value, logger)
		observationsProcessed.WithLabelValues(outcome).Inc()

		if ctx.Err() != nil && outcome == "failed" {
			// Shutting down mid-retry: leave the offset for the next run.
			break
		}
		if err := kafkaConsumer.CommitMessages(ctx, msg); err != nil {
			logger.Error("failed to commit kafka message", "offset", msg.Offset, "error", err)
		}
	}
	logger.Info("observation consumer exited")
}

// process records one observation with retries. Records that can never
// succeed are dropped right away.
func process(ctx context.Context, uc *usecase.RecordObservation, value []byte, logger *slog.Logger) string {
	var obs usecase.Observation
	if err := json.Unmarshal(value, &obs); err != nil {
		logger.Error("failed to unmarshal observation", "error", err)
		return "invalid"
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			logger.Info("retry attempt", "shipment_id", obs.ShipmentID, "attempt", attempt, "max", maxRetries, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "failed"
			case <-time.After(backoff):
			}
		}

		started := time.Now()
		res, err := uc.Execute(ctx, obs)
		if err == nil {
			processingDuration.Observe(time.Since(started).Seconds())
			if res.Stale {
				return "stale"
			}
			return "recorded"
		}
		if errors.Is(err, usecase.ErrInvalidObservation) ||
			errors.Is(err, shipment.ErrUnknownStatus) ||
			errors.Is(err, shipment.ErrInvalidTransition) {
			logger.Warn("observation rejected", "shipment_id", obs.ShipmentID, "error", err)
			return "rejected"
		}
		logger.Error("processing failed", "shipment_id", obs.ShipmentID, "attempt", attempt, "error", err)
	}

	logger.Error("dropping observation after retries", "shipment_id", obs.ShipmentID, "retries", maxRetries)
	return "failed"
}
