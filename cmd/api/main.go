package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"floodbuddy/internal/cache"
	"floodbuddy/internal/config"
	"floodbuddy/internal/database"
	"floodbuddy/internal/handlers"
	"floodbuddy/internal/jobs"
	"floodbuddy/internal/log"
	"floodbuddy/internal/observability"
	"floodbuddy/internal/queue"
	"floodbuddy/internal/realtime"
	"floodbuddy/internal/repository"
	"floodbuddy/internal/server"
	"floodbuddy/internal/service"
)

type stores struct {
	users    repository.UserStore
	sessions repository.SessionStore
	reports  repository.ReportStore
	pool     *pgxpool.Pool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "api")
	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := openStores(ctx, cfg, clock, logger)

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	notifier := realtime.NewRedisNotifier(redisClient, cfg.Reports.ChangesChannel)
	producer := queue.NewProducer(redisClient, cfg.Reports.TaskStream)

	hub := realtime.NewHub(st.reports, notifier, clock, logger, metrics, realtime.HubOptions{
		Resync: cfg.Reports.ResyncInterval,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("snapshot hub stopped")
		}
	}()

	authService := service.NewAuthService(st.users, st.sessions, cfg.Security, clock, metrics, logger)
	reportService := service.NewReportService(st.reports, notifier, producer, clock, metrics, logger)

	handlerSet := handlers.NewHandlerSet(logger, handlers.Deps{
		Config:   cfg,
		Auth:     authService,
		Reports:  reportService,
		Hub:      hub,
		Nonces:   cache.NewNonceStore(redisClient),
		Clock:    clock,
		Database: st.reports,
		Cache: handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	})
	httpServer := server.NewHTTPServer(cfg, logger, metrics, handlerSet)

	scheduler := jobs.NewScheduler(producer, schedulesFor(cfg, logger), logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	shutdown(logger, httpServer, scheduler, hubDone, st.pool, redisClient)
}

// openStores picks Postgres when a DSN is configured, otherwise the
// in-memory repositories.
func openStores(ctx context.Context, cfg *config.AppConfig, clock clockwork.Clock, logger zerolog.Logger) stores {
	if cfg.Postgres.DSN == "" {
		logger.Warn().Msg("postgres.dsn is empty, using in-memory repositories")
		return stores{
			users:    repository.NewMemoryUserRepository(clock),
			sessions: repository.NewMemorySessionRepository(clock),
			reports:  repository.NewMemoryReportRepository(),
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	return stores{
		users:    repository.NewUserRepository(pool),
		sessions: repository.NewSessionRepository(pool),
		reports:  repository.NewReportRepository(pool),
		pool:     pool,
	}
}

// schedulesFor leaves the cron jobs off in memory mode: the worker that
// runs them needs Postgres, so nothing would consume the tasks.
func schedulesFor(cfg *config.AppConfig, logger zerolog.Logger) jobs.Schedules {
	if cfg.Postgres.DSN == "" {
		logger.Warn().Msg("postgres.dsn is empty, scheduled export and prune jobs disabled")
		return jobs.Schedules{}
	}
	return jobs.Schedules{
		Export:        cfg.Reports.ExportSchedule,
		PruneSessions: cfg.Security.PruneSchedule,
	}
}

func shutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, hubDone <-chan struct{}, db *pgxpool.Pool, redisClient *redis.Client) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the hub closes every stream once ctx ends, letting Shutdown drain
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	if db != nil {
		db.Close()
	}
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
