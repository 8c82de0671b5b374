package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/roastery-checkout/internal/app"
	"github.com/noah-isme/roastery-checkout/internal/config"
	"github.com/noah-isme/roastery-checkout/internal/lock"
	"github.com/noah-isme/roastery-checkout/internal/notify"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/resilience"
	"github.com/noah-isme/roastery-checkout/internal/store/postgres"
	"github.com/noah-isme/roastery-checkout/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, registry)
	resilience.MustRegisterMetrics(cfg.MetricsNamespace, registry)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "roastery-worker",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	services := app.New(app.Dependencies{
		Store:  postgres.New(pool),
		Redis:  redisClient,
		Logger: &logger,
	}, app.Options{
		Currency:               cfg.Currency,
		DefaultShippingFee:     cfg.DefaultShippingFee,
		CheckoutTTL:            cfg.CheckoutTTL,
		MaterializeMaxAttempts: cfg.MaterializeMaxAttempts,
		MaterializeLockTTL:     cfg.MaterializeLockTTL,
	})

	endpoints := notify.ParseEndpoints(cfg.EventWebhooks)
	webhook := &notify.Webhook{
		Endpoints: endpoints,
		HTTP: &resilience.HTTPClient{
			Client: notify.HTTPClient(cfg.GatewayTimeout, false),
			Breaker: resilience.NewBreaker(5, 0.5, 30*time.Second).
				WithTarget("event-webhook").
				WithLogger(logger),
			BaseBackoff: 500 * time.Millisecond,
			MaxAttempts: 2,
			Jitter:      0.2,
			Timeout:     cfg.GatewayTimeout,
		},
		Ledger:    notify.RedisLedger{Client: redisClient},
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    &logger,
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	queue := cfg.TaskQueue
	if queue == "" {
		queue = tasks.DefaultQueue
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{queue: 1},
		ErrorHandler:    tasks.ErrorHandler(logger),
		Logger:          tasks.Logger(logger),
		ShutdownTimeout: 20 * time.Second,
	})

	mux := asynq.NewServeMux()
	tasks.Handlers{
		Checkouts: services.Checkouts,
		Webhook:   webhook,
		Locker:    lock.Locker{R: redisClient, RetryBackoff: 100 * time.Millisecond, MaxWait: 5 * time.Second},
		Logger:    &logger,
	}.Register(mux)

	metricsSrv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener stopped")
		}
	}()

	logger.Info().
		Str("queue", queue).
		Int("concurrency", cfg.WorkerConcurrency).
		Int("webhook_endpoints", len(endpoints)).
		Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	<-ctx.Done()
	logger.Info().Msg("worker shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown metrics listener")
	}
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	pc.ConnConfig.Tracer = obs.PGXTracer{}
	pc.ConnConfig.RuntimeParams["application_name"] = "roastery-worker"
	// delivery tasks hold a connection only briefly
	pc.MaxConns = int32(max(cfg.WorkerConcurrency, 2))
	if cfg.DBMaxConns > 0 && int32(cfg.DBMaxConns) < pc.MaxConns {
		pc.MaxConns = int32(cfg.DBMaxConns)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err == nil {
		err = pool.Ping(dialCtx)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Warn().Err(err).Msg("redis tracing disabled")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(dialCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	return client
}
