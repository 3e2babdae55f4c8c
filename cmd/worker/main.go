package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/technoprod/backend-gestion/internal/app"
	"github.com/technoprod/backend-gestion/internal/common"
	"github.com/technoprod/backend-gestion/internal/config"
	"github.com/technoprod/backend-gestion/internal/events"
	"github.com/technoprod/backend-gestion/internal/lock"
	"github.com/technoprod/backend-gestion/internal/notify"
	"github.com/technoprod/backend-gestion/internal/obs"
	"github.com/technoprod/backend-gestion/internal/queue"
	"github.com/technoprod/backend-gestion/internal/resilience"
	"github.com/technoprod/backend-gestion/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, queries := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	dlqStore := queue.NewStore(pool)
	taskQueue := queue.Enqueuer{
		R:           redisClient,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.IdempotencyTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}

	dispatcher := &notify.Dispatcher{
		Store: queries,
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
				Timeout:   cfg.WebhookRequestTimeout,
			},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("webhook-delivery"),
			MaxAttempts: 1,
		},
		Enabled:        cfg.WebhookDeliveryEnabled,
		BackoffBaseSec: cfg.WebhookBackoffBaseSec,
		MaxAttempts:    cfg.WebhookDefaultMaxAttempts,
		Replay:         notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:      cfg.WebhookReplayTTL,
		Tasks:          taskQueue,
	}

	emailNotifier := &notify.EmailNotifier{
		Sender:           common.NopEmailSender{},
		DefaultRecipient: cfg.NotifyDefaultRecipient,
		Log:              logger,
	}

	relay := &events.Relay{
		Store:    queries,
		Handlers: []events.Handler{dispatcher, emailNotifier},
		Interval: 2 * time.Second,
		Log:      logger,
	}

	webhookWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              notify.TaskKindWebhookDelivery,
		Concurrency:       cfg.QueueConcurrency,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.WebhookRequestTimeout + 5*time.Second,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Store:             dlqStore,
		Logger:            &logger,
		Handler:           dispatcher.HandleTask,
	}

	// Sweeps rows the queue path lost (crashed worker, dropped task) back
	// into delivery.
	sweeper := notify.DeliveryWorker{
		Dispatcher: dispatcher,
		Locker:     lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:    cfg.LockTTL,
		Log:        logger,
	}

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri for asynq")
	}
	maintenance := &app.Maintenance{Queries: queries, DLQ: dlqStore, Log: logger}
	maintenanceMux := asynq.NewServeMux()
	maintenance.Register(maintenanceMux)
	maintenanceSrv := asynq.NewServer(redisConn, asynq.Config{Concurrency: 2})
	scheduler := asynq.NewScheduler(redisConn, nil)
	if err := maintenance.Schedule(scheduler); err != nil {
		logger.Fatal().Err(err).Msg("register maintenance schedule")
	}

	logger.Info().Msg("worker starting")

	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("outbox relay stopped with error")
		}
	}()
	if cfg.WebhookDeliveryEnabled {
		go func() {
			if err := webhookWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("webhook queue worker stopped with error")
			}
		}()
		go sweeper.Run(ctx)
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := maintenanceSrv.Start(maintenanceMux); err != nil {
		logger.Fatal().Err(err).Msg("start maintenance server")
	}

	<-ctx.Done()
	scheduler.Shutdown()
	maintenanceSrv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, *store.Queries) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "gestion-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool, store.New(pool)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
