package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiptrack/internal/application"
	"shiptrack/internal/application/factories/infrastructure"
	"shiptrack/internal/config"
	"shiptrack/internal/domain/outbox"
	"shiptrack/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
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

	poller := worker.NewPoller(pipeline.Dispatcher, pipeline.Registry, cfg.Queue.PollInterval, outbox.ClaimOptions{
		BatchSize:         cfg.Queue.BatchSize,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, logger)

	metrics := &http.Server{
		Addr:              ":" + cfg.HTTP.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker metrics listening", "port", cfg.HTTP.MetricsPort)
		if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return poller.Run(ctx)
	})
	g.Go(func() error {
		pruneInbox(ctx, infra, cfg.Queue.InboxRetention, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}
	logger.Info("worker exited")
}

func pruneInbox(ctx context.Context, infra *application.Infra, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := infra.Inbox.Prune(ctx, retention)
			if err != nil {
				logger.Error("failed to prune inbox", "error", err)
				continue
			}
			logger.Info("inbox pruned", "removed", n)
		}
	}
}
