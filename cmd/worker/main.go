package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"floodbuddy/internal/cache"
	"floodbuddy/internal/config"
	"floodbuddy/internal/database"
	"floodbuddy/internal/events"
	"floodbuddy/internal/log"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/queue"
	"floodbuddy/internal/repository"
	"floodbuddy/internal/storage"
	"floodbuddy/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "worker")
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.DSN == "" {
		logger.Fatal().Msg("worker requires postgres.dsn")
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket failed")
	}

	publisher := newPublisher(cfg.Kafka, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("close publisher")
		}
	}()

	processor := tasks.NewProcessor(
		repository.NewReportRepository(pool),
		repository.NewSessionRepository(pool),
		objectStore,
		publisher,
		clockwork.NewRealClock(),
		metrics,
		logger,
	)
	consumer := queue.NewConsumer(client, queue.ConsumerOptions{
		Stream:        cfg.Reports.TaskStream,
		Group:         cfg.Worker.Group,
		Consumer:      cfg.Worker.Consumer,
		ClaimInterval: cfg.Worker.ClaimInterval,
		MaxDeliveries: cfg.Worker.MaxDeliveries,
	}, logger, processor)

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("consumer did not stop in time")
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info().Msg("worker exited cleanly")
}

func newPublisher(cfg config.KafkaConfig, logger zerolog.Logger) events.Publisher {
	if !cfg.Enabled {
		return events.NewNopPublisher(logger)
	}
	return events.NewKafkaPublisher(cfg, logger)
}
