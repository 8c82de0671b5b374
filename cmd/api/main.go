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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/roastery-checkout/internal/app"
	"github.com/noah-isme/roastery-checkout/internal/config"
	"github.com/noah-isme/roastery-checkout/internal/db"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/health"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/payment"
	"github.com/noah-isme/roastery-checkout/internal/ratelimit"
	"github.com/noah-isme/roastery-checkout/internal/resilience"
	"github.com/noah-isme/roastery-checkout/internal/security"
	"github.com/noah-isme/roastery-checkout/internal/store/postgres"
	"github.com/noah-isme/roastery-checkout/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("service", "roastery-api").Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, registry)
	resilience.MustRegisterMetrics(cfg.MetricsNamespace, registry)
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, registry)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "roastery-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()
	if cfg.DBAutoMigrate {
		if err := db.Migrate(pool, logger); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	store := postgres.New(pool)
	gateways, sandbox := buildGateways(cfg, logger)

	services := app.New(app.Dependencies{
		Store: store,
		Redis: redisClient,
		Expiry: tasks.Scheduler{
			Client:   taskClient,
			Queue:    cfg.TaskQueue,
			MaxRetry: cfg.TaskMaxRetry,
		},
		Notifiers: []events.Notifier{tasks.Forwarder{
			Client:   taskClient,
			Queue:    cfg.TaskQueue,
			MaxRetry: cfg.TaskMaxRetry,
			Topics:   cfg.EventWebhookTopics,
		}},
		Gateways: gateways,
		Logger:   &logger,
	}, app.Options{
		Currency:               cfg.Currency,
		DefaultShippingFee:     cfg.DefaultShippingFee,
		CheckoutTTL:            cfg.CheckoutTTL,
		QuoteConcurrency:       cfg.QuoteConcurrency,
		PriceCacheTTL:          cfg.PriceCacheTTL,
		MaterializeMaxAttempts: cfg.MaterializeMaxAttempts,
		MaterializeLockTTL:     cfg.MaterializeLockTTL,
		DefaultGateway:         cfg.PaymentGateway,
		CallbackURL:            cfg.PaymentCallbackURL,
	})

	limiterStore, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "ratelimit"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	checkoutLimiter, err := ratelimit.New(limiterStore, cfg.RateLimitCheckout)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.RateLimitCheckout).Msg("parse checkout rate limit")
	}
	paymentLimiter, err := ratelimit.New(limiterStore, cfg.RateLimitPayment)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.RateLimitPayment).Msg("parse payment rate limit")
	}

	handler := newRouter(routerConfig{
		Services:        services,
		Variants:        store,
		Logger:          logger,
		Redis:           redisClient,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		ReplayTTL:       cfg.WebhookReplayTTL,
		Sandbox:         sandbox,
		CheckoutLimiter: checkoutLimiter,
		PaymentLimiter:  paymentLimiter,
		Health: health.Handler{
			Checker:      health.Deps{Pool: pool, Redis: redisClient},
			DBTimeout:    500 * time.Millisecond,
			RedisTimeout: 300 * time.Millisecond,
		},
		Metrics:     httpMetrics,
		Gatherer:    registry,
		Tracing:     cfg.TracingEnabled,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Headers: security.Headers{
			Enable:     true,
			EnableHSTS: cfg.IsProduction(),
			NoStore:    true,
		},
		RequestBodyLimit: cfg.RequestBodyLimit,
		AdminToken:       cfg.AdminToken,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("gateway", cfg.PaymentGateway).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func buildGateways(cfg *config.Config, logger zerolog.Logger) (map[string]payment.Gateway, *payment.Sandbox) {
	gateways := map[string]payment.Gateway{}
	var sandbox *payment.Sandbox
	if cfg.SandboxSigningKey != "" {
		sandbox = &payment.Sandbox{
			SigningKey: cfg.SandboxSigningKey,
			BaseURL:    cfg.PublicBaseURL + "/api/v1",
		}
		gateways[sandbox.Name()] = sandbox
	}
	if cfg.ZarinpalMerchantID != "" {
		breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).
			WithTarget("zarinpal").
			WithLogger(logger)
		gateways["zarinpal"] = payment.Zarinpal{
			MerchantID: cfg.ZarinpalMerchantID,
			BaseURL:    cfg.ZarinpalBaseURL,
			HTTP: resilience.HTTPClient{
				Client:      &http.Client{},
				Breaker:     breaker,
				BaseBackoff: 200 * time.Millisecond,
				MaxAttempts: cfg.GatewayRetryMax + 1,
				Jitter:      0.2,
				Timeout:     cfg.GatewayTimeout,
			},
		}
	}
	return gateways, sandbox
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "roastery-api"
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(connectCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
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
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}
