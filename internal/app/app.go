// Package app assembles the checkout services from their stores and
// infrastructure so the API, the worker and tests share one wiring.
package app

import (
	"time"

	validator "github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/lock"
	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/payment"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

// Store is everything the services persist through. Both the Postgres and
// the in-memory stores satisfy it.
type Store interface {
	catalog.VariantStore
	catalog.PriceStore
	promotion.Store
	cart.Store
	checkout.Store
	events.Store
	order.Store
	order.UnitOfWork
	payment.Store
}

// Options are the tunables read from configuration.
type Options struct {
	Currency               string
	DefaultShippingFee     int64
	CheckoutTTL            time.Duration
	QuoteConcurrency       int
	PriceCacheTTL          time.Duration
	MaterializeMaxAttempts int
	MaterializeLockTTL     time.Duration
	DefaultGateway         string
	CallbackURL            string
}

// Dependencies are the shared infrastructure handles.
type Dependencies struct {
	Store     Store
	Redis     *redis.Client
	Validator *validator.Validate
	// Expiry schedules checkout abandonment; nil disables it.
	Expiry    checkout.ExpiryScheduler
	Notifiers []events.Notifier
	Gateways  map[string]payment.Gateway
	Stock     order.StockReserver
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Services is the assembled domain layer.
type Services struct {
	Prices       catalog.PriceStore
	Resolver     *catalog.Resolver
	Promotions   *promotion.Service
	Carts        *cart.Service
	Pricer       *checkout.Pricer
	Checkouts    *checkout.Service
	Materializer *order.Materializer
	Orders       *order.Service
	Payments     *payment.Service
	Events       *events.Bus
}

// New wires the services. A nil Redis client disables the price cache and
// the cross-process materialization lock.
func New(deps Dependencies, opts Options) *Services {
	if opts.Currency == "" {
		opts.Currency = pricing.DefaultCurrency
	}
	if deps.Validator == nil {
		deps.Validator = validator.New(validator.WithRequiredStructEnabled())
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	st := deps.Store

	var prices catalog.PriceStore = st
	if deps.Redis != nil && opts.PriceCacheTTL > 0 {
		prices = catalog.NewCachedPrices(st, deps.Redis, opts.PriceCacheTTL, deps.Logger)
	}
	bus := &events.Bus{Store: st, Notifiers: deps.Notifiers, Now: deps.Now}
	resolver := &catalog.Resolver{Prices: prices}
	promos := &promotion.Service{Store: st, Now: deps.Now}
	pricer := &checkout.Pricer{
		Variants:    st,
		Prices:      resolver,
		Promotions:  promos,
		Concurrency: opts.QuoteConcurrency,
	}
	materializer := &order.Materializer{
		UoW:         st,
		Orders:      st,
		Variants:    st,
		LockTTL:     opts.MaterializeLockTTL,
		Stock:       deps.Stock,
		MaxAttempts: opts.MaterializeMaxAttempts,
		Events:      bus,
		Logger:      deps.Logger,
		Now:         deps.Now,
	}
	if deps.Redis != nil {
		materializer.Locker = lock.Locker{R: deps.Redis}
	}
	checkouts := &checkout.Service{
		Store:              st,
		Carts:              st,
		Pricer:             pricer,
		Validate:           deps.Validator,
		Expiry:             deps.Expiry,
		TTL:                opts.CheckoutTTL,
		DefaultShippingFee: opts.DefaultShippingFee,
		Events:             bus,
		Logger:             deps.Logger,
		Now:                deps.Now,
	}
	return &Services{
		Prices:     prices,
		Resolver:   resolver,
		Promotions: promos,
		Carts: &cart.Service{
			Store:      st,
			Variants:   st,
			Prices:     resolver,
			Promotions: promos,
			Currency:   opts.Currency,
			Now:        deps.Now,
		},
		Pricer:       pricer,
		Checkouts:    checkouts,
		Materializer: materializer,
		Orders:       &order.Service{Store: st, Events: bus, Logger: deps.Logger, Now: deps.Now},
		Payments: &payment.Service{
			Store:          st,
			Checkouts:      checkouts,
			Orders:         materializer,
			Coupons:        promos,
			Gateways:       deps.Gateways,
			DefaultGateway: opts.DefaultGateway,
			CallbackURL:    opts.CallbackURL,
			Events:         bus,
			Logger:         deps.Logger,
			Now:            deps.Now,
		},
		Events: bus,
	}
}
