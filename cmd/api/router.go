package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/roastery-checkout/internal/app"
	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/health"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/payment"
	"github.com/noah-isme/roastery-checkout/internal/ratelimit"
	"github.com/noah-isme/roastery-checkout/internal/security"
)

type routerConfig struct {
	Services *app.Services
	Variants catalog.VariantStore
	Logger   zerolog.Logger

	Redis          *redis.Client
	IdempotencyTTL time.Duration
	ReplayTTL      time.Duration
	Sandbox        *payment.Sandbox

	CheckoutLimiter *limiter.Limiter
	PaymentLimiter  *limiter.Limiter

	Health           health.Handler
	Metrics          *obs.HTTPMetrics
	Gatherer         prometheus.Gatherer
	Tracing          bool
	CORSOrigins      []string
	Headers          security.Headers
	RequestBodyLimit int64
	AdminToken       string
	Now              func() time.Time
}

func newRouter(rc routerConfig) http.Handler {
	svc := rc.Services

	catalogHandler := &catalog.Handler{Resolver: svc.Resolver, Variants: rc.Variants, Now: rc.Now}
	cartHandler := &cart.Handler{Svc: svc.Carts}
	checkoutHandler := &checkout.Handler{Svc: svc.Checkouts}
	orderHandler := &order.Handler{Svc: svc.Orders}
	orderAdmin := &order.AdminHandler{Svc: svc.Orders}
	paymentHandler := &payment.Handler{
		Svc:       svc.Payments,
		Replay:    rc.Redis,
		ReplayTTL: rc.ReplayTTL,
		Sandbox:   rc.Sandbox,
	}

	onLimiterError := func(err error) {
		rc.Logger.Warn().Err(err).Msg("rate limiter unavailable")
	}
	checkoutLimit := ratelimit.Handler{Limiter: rc.CheckoutLimiter, Scope: "checkout", OnError: onLimiterError}.Middleware
	paymentLimit := ratelimit.Handler{Limiter: rc.PaymentLimiter, Scope: "payment", OnError: onLimiterError}.Middleware

	idem := passthrough
	if rc.Redis != nil {
		idem = common.Idem{R: rc.Redis, TTL: rc.IdempotencyTTL}.Middleware
	}

	origins := rc.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rc.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rc.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: rc.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rc.Logger}.Middleware)
	r.Use(rc.Headers.Middleware)
	r.Use(security.CORS(origins))
	r.Use(security.BodyLimit{Max: rc.RequestBodyLimit}.Middleware)
	r.Use(common.TrustedUserHeader)

	if rc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/health/live", rc.Health.Live)
	r.Get("/health/ready", rc.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/variants/{id}/price", catalogHandler.VariantPrice)

		v.Route("/carts", func(c chi.Router) {
			c.Get("/{id}", cartHandler.Get)
			c.Group(func(g chi.Router) {
				g.Use(idem)
				g.Post("/", cartHandler.Create)
				g.Post("/{id}/items", cartHandler.AddItem)
				g.Patch("/{id}/items/{variantId}", cartHandler.UpdateItem)
				g.Delete("/{id}/items/{variantId}", cartHandler.RemoveItem)
				g.Post("/{id}/coupon", cartHandler.ApplyCoupon)
				g.Delete("/{id}/coupon", cartHandler.RemoveCoupon)
			})
			c.With(checkoutLimit).Post("/{id}/quote", checkoutHandler.Quote)
			c.With(checkoutLimit, idem).Post("/{id}/checkout", checkoutHandler.Start)
		})

		v.Route("/checkouts/{id}", func(c chi.Router) {
			c.Get("/", checkoutHandler.Get)
			c.With(idem).Post("/abandon", checkoutHandler.Abandon)
			c.With(paymentLimit, idem).Post("/payment", paymentHandler.Start)
		})

		v.Route("/payments/callback/{gateway}", func(p chi.Router) {
			p.Use(paymentLimit)
			p.Get("/", paymentHandler.Callback)
			p.Post("/", paymentHandler.Callback)
		})
		if rc.Sandbox != nil {
			v.Get("/sandbox/pay/{authority}", paymentHandler.SandboxPay)
		}

		v.Get("/orders", orderHandler.List)
		v.Get("/orders/{number}", orderHandler.GetByNumber)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(requireAdminToken(rc.AdminToken))
			admin.Patch("/orders/{id}/status", orderAdmin.PatchStatus)
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }

// requireAdminToken guards back-office routes with a static bearer token.
// An empty token closes the routes entirely.
func requireAdminToken(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin api disabled", nil)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
