package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	AdminToken         string
	DBAutoMigrate      bool
	DBMaxConns         int
	RequestBodyLimit   int64

	Currency               string
	DefaultShippingFee     int64
	PriceCacheTTL          time.Duration
	CheckoutTTL            time.Duration
	QuoteConcurrency       int
	MaterializeMaxAttempts int
	MaterializeLockTTL     time.Duration
	IdempotencyTTL         time.Duration

	PaymentGateway     string
	PaymentCallbackURL string
	PublicBaseURL      string
	ZarinpalMerchantID string
	ZarinpalBaseURL    string
	SandboxSigningKey  string
	GatewayTimeout     time.Duration
	GatewayRetryMax    int
	WebhookReplayTTL   time.Duration

	RateLimitCheckout string
	RateLimitPayment  string

	WorkerConcurrency  int
	TaskQueue          string
	TaskMaxRetry       int
	EventWebhooks      string
	EventWebhookTopics []string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	TracingEnabled   bool
	OTLPEndpoint     string
	TracingSampling  float64
}

// Load reads configuration from the process environment, after merging an
// optional .env file. Malformed values are reported together with missing
// required settings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	src := &source{k: k}

	cfg := &Config{
		AppEnv:             src.str("APP_ENV", "development"),
		Port:               src.str("PORT", "8080"),
		DatabaseURL:        src.str("DATABASE_URL", ""),
		RedisURL:           src.str("REDIS_URL", ""),
		CORSAllowedOrigins: src.list("CORS_ALLOWED_ORIGINS"),
		AdminToken:         src.str("ADMIN_TOKEN", ""),
		DBAutoMigrate:      src.flag("DB_AUTO_MIGRATE"),
		DBMaxConns:         int(src.integer("DB_MAX_CONNS", 10)),
		RequestBodyLimit:   src.integer("REQUEST_BODY_LIMIT", 1<<20),

		Currency:               strings.ToUpper(src.str("CURRENCY_CODE", "TOM")),
		DefaultShippingFee:     src.integer("DEFAULT_SHIPPING_FEE", 50_000),
		PriceCacheTTL:          src.duration("PRICE_CACHE_TTL", time.Minute),
		CheckoutTTL:            src.duration("CHECKOUT_TTL", 2*time.Hour),
		QuoteConcurrency:       int(src.integer("QUOTE_CONCURRENCY", 8)),
		MaterializeMaxAttempts: int(src.integer("MATERIALIZE_MAX_ATTEMPTS", 3)),
		MaterializeLockTTL:     src.duration("MATERIALIZE_LOCK_TTL", 10*time.Second),
		IdempotencyTTL:         src.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		PaymentGateway:     strings.ToLower(src.str("PAYMENT_GATEWAY", "sandbox")),
		PaymentCallbackURL: strings.TrimRight(src.str("PAYMENT_CALLBACK_URL", ""), "/"),
		PublicBaseURL:      strings.TrimRight(src.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		ZarinpalMerchantID: src.str("ZARINPAL_MERCHANT_ID", ""),
		ZarinpalBaseURL:    strings.TrimRight(src.str("ZARINPAL_BASE_URL", "https://payment.zarinpal.com"), "/"),
		SandboxSigningKey:  src.str("SANDBOX_SIGNING_KEY", ""),
		GatewayTimeout:     src.duration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayRetryMax:    int(src.integer("GATEWAY_RETRY_MAX", 2)),
		WebhookReplayTTL:   src.duration("WEBHOOK_REPLAY_TTL", 24*time.Hour),

		RateLimitCheckout: src.str("RATE_LIMIT_CHECKOUT", "30-M"),
		RateLimitPayment:  src.str("RATE_LIMIT_PAYMENT", "10-M"),

		WorkerConcurrency:  int(src.integer("WORKER_CONCURRENCY", 5)),
		TaskQueue:          src.str("TASK_QUEUE", "default"),
		TaskMaxRetry:       int(src.integer("TASK_MAX_RETRY", 8)),
		EventWebhooks:      src.str("EVENT_WEBHOOKS", ""),
		EventWebhookTopics: src.list("EVENT_WEBHOOK_TOPICS"),

		LogFormat:        src.str("OBS_LOG_FORMAT", "json"),
		LogLevel:         src.str("OBS_LOG_LEVEL", "info"),
		MetricsNamespace: src.str("OBS_METRICS_NAMESPACE", "roastery"),
		TracingEnabled:   src.flag("OBS_TRACING_ENABLED"),
		OTLPEndpoint:     src.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TracingSampling:  src.ratio("OBS_TRACING_SAMPLE_RATIO", 0.1),
	}
	if cfg.PaymentCallbackURL == "" {
		cfg.PaymentCallbackURL = cfg.PublicBaseURL + "/api/v1/payments/callback"
	}

	if err := errors.Join(append(src.errs, cfg.validate()...)...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	switch c.PaymentGateway {
	case "sandbox":
		if c.SandboxSigningKey == "" {
			errs = append(errs, errors.New("SANDBOX_SIGNING_KEY is required for the sandbox gateway"))
		}
	case "zarinpal":
		if c.ZarinpalMerchantID == "" {
			errs = append(errs, errors.New("ZARINPAL_MERCHANT_ID is required for the zarinpal gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.PaymentGateway))
	}
	if c.DefaultShippingFee < 0 {
		errs = append(errs, errors.New("DEFAULT_SHIPPING_FEE must not be negative"))
	}
	if c.MaterializeMaxAttempts < 1 {
		errs = append(errs, errors.New("MATERIALIZE_MAX_ATTEMPTS must be at least 1"))
	}
	return errs
}

// HTTPAddr is the listen address derived from PORT, which may be given as
// "8080" or ":8080".
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	switch {
	case port == "":
		return ":8080"
	case strings.HasPrefix(port, ":"):
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// source reads typed values out of koanf. Blank values take the default;
// unparsable ones are collected in errs and also take the default.
type source struct {
	k    *koanf.Koanf
	errs []error
}

func (s *source) str(key, def string) string {
	if v := strings.TrimSpace(s.k.String(key)); v != "" {
		return v
	}
	return def
}

func (s *source) list(key string) []string {
	var out []string
	for _, part := range strings.Split(s.k.String(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *source) integer(key string, def int64) int64 {
	raw := s.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(raw, "_", ""), 10, 64)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return n
}

func (s *source) duration(key string, def time.Duration) time.Duration {
	raw := s.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		s.errs = append(s.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return d
}

func (s *source) ratio(key string, def float64) float64 {
	raw := s.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		s.errs = append(s.errs, fmt.Errorf("%s: %q is not a ratio between 0 and 1", key, raw))
		return def
	}
	return f
}

func (s *source) flag(key string) bool {
	switch strings.ToLower(s.str(key, "")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
