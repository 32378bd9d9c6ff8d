package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiptrack/internal/api"
	"shiptrack/internal/application"
	"shiptrack/internal/application/factories/infrastructure"
	"shiptrack/internal/config"
	"shiptrack/internal/domain/outbox"
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

	handlers := api.NewHandlers(api.HandlersConfig{
		RecordObservation:  pipeline.RecordObservation,
		LinkThread:         pipeline.LinkThread,
		GetOrder:           pipeline.GetOrder,
		GetShipmentHistory: pipeline.GetShipmentHistory,
		OrderSync:          pipeline.OrderSync,
		Dispatcher:         pipeline.Dispatcher,
		DeadLetters:        infra.Queue,
		ClaimOptions: outbox.ClaimOptions{
			BatchSize:         cfg.Queue.BatchSize,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.NewRouter(handlers, infra.Redis),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "app", cfg.App.Name, "version", cfg.App.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
