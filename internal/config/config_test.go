package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	base := map[string]string{
		"DATABASE_URL":        "postgres://localhost:5432/roastery?sslmode=disable",
		"REDIS_URL":           "redis://localhost:6379/0",
		"SANDBOX_SIGNING_KEY": "dev-key",
	}
	for k, v := range vars {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, nil)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "TOM", cfg.Currency)
	require.EqualValues(t, 50_000, cfg.DefaultShippingFee)
	require.Equal(t, 2*time.Hour, cfg.CheckoutTTL)
	require.Equal(t, 3, cfg.MaterializeMaxAttempts)
	require.Equal(t, 10*time.Second, cfg.MaterializeLockTTL)
	require.Equal(t, "sandbox", cfg.PaymentGateway)
	require.Equal(t, "http://localhost:8080/api/v1/payments/callback", cfg.PaymentCallbackURL)
	require.Equal(t, "30-M", cfg.RateLimitCheckout)
	require.False(t, cfg.DBAutoMigrate)
	require.InDelta(t, 0.1, cfg.TracingSampling, 1e-9)
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"PORT":                 ":9090",
		"DEFAULT_SHIPPING_FEE": "75_000",
		"CHECKOUT_TTL":         "45m",
		"PAYMENT_GATEWAY":      "ZARINPAL",
		"ZARINPAL_MERCHANT_ID": "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx",
		"PAYMENT_CALLBACK_URL": "https://shop.example/api/v1/payments/callback/",
		"DB_AUTO_MIGRATE":      "yes",
		"EVENT_WEBHOOK_TOPICS": "order.paid, order.created,",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.EqualValues(t, 75_000, cfg.DefaultShippingFee)
	require.Equal(t, 45*time.Minute, cfg.CheckoutTTL)
	require.Equal(t, "zarinpal", cfg.PaymentGateway)
	require.Equal(t, "https://shop.example/api/v1/payments/callback", cfg.PaymentCallbackURL)
	require.True(t, cfg.DBAutoMigrate)
	require.Equal(t, []string{"order.paid", "order.created"}, cfg.EventWebhookTopics)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing database":  {"DATABASE_URL": ""},
		"missing redis":     {"REDIS_URL": ""},
		"sandbox key":       {"SANDBOX_SIGNING_KEY": ""},
		"zarinpal merchant": {"PAYMENT_GATEWAY": "zarinpal", "ZARINPAL_MERCHANT_ID": ""},
		"unknown gateway":   {"PAYMENT_GATEWAY": "paypal"},
		"negative shipping": {"DEFAULT_SHIPPING_FEE": "-1"},
		"bad duration":      {"CHECKOUT_TTL": "two hours"},
		"bad integer":       {"QUOTE_CONCURRENCY": "many"},
		"bad ratio":         {"OBS_TRACING_SAMPLE_RATIO": "1.5"},
		"zero attempts":     {"MATERIALIZE_MAX_ATTEMPTS": "0"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			setEnv(t, overrides)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadReportsEveryProblem(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "", "REDIS_URL": "", "CHECKOUT_TTL": "soon"})
	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")
	require.ErrorContains(t, err, "REDIS_URL")
	require.ErrorContains(t, err, "CHECKOUT_TTL")
}
