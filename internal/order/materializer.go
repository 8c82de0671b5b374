package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

const (
	defaultMaxAttempts = 3
	defaultLockTTL     = 15 * time.Second
)

// Tx is the set of operations performed atomically while materializing.
type Tx interface {
	// LockCheckout loads the checkout and holds it exclusively until the
	// transaction ends. Returns checkout.ErrNotFound when missing.
	LockCheckout(ctx context.Context, id uuid.UUID) (checkout.Checkout, error)
	OrderByCheckout(ctx context.Context, checkoutID uuid.UUID) (Order, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	// InsertOrder stores the header and lines. It returns
	// ErrAlreadyMaterialized or ErrOrderNumberCollision on unique conflicts.
	InsertOrder(ctx context.Context, o Order) error
	// InsertRedemption reports false when the (coupon, order) pair exists.
	InsertRedemption(ctx context.Context, r Redemption) (bool, error)
	IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) error
	MarkCheckoutOrdered(ctx context.Context, checkoutID uuid.UUID, at time.Time) error
}

// UnitOfWork runs fn in a single transaction, committing when fn returns nil.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// StockReserver is invoked inside the materialization transaction once the
// order lines are known.
type StockReserver interface {
	Reserve(ctx context.Context, tx Tx, o Order) error
}

// Materializer converts a paid checkout into exactly one order.
type Materializer struct {
	UoW         UnitOfWork
	Orders      Store
	Variants    catalog.VariantStore
	Locker      Locker
	LockTTL     time.Duration
	Stock       StockReserver
	MaxAttempts int
	Events      *events.Bus
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// Charge is the payment a materialization settles. With a PaymentID set, the
// order is only created when the checkout still carries the quote the payment
// was opened for.
type Charge struct {
	PaymentID   uuid.UUID
	Amount      pricing.Money
	QuoteDigest string
	GatewayFee  pricing.Money
}

func (c Charge) covers(q checkout.Quote) error {
	if c.PaymentID == uuid.Nil {
		return nil
	}
	if c.Amount.Amount != q.Payable.Amount || (c.QuoteDigest != "" && c.QuoteDigest != q.Digest()) {
		return fmt.Errorf("%w: charged %d, payable %d", ErrQuoteChanged, c.Amount.Amount, q.Payable.Amount)
	}
	return nil
}

// Result describes a materialization outcome.
type Result struct {
	Order Order
	// Created is false when the order already existed for the checkout.
	Created bool
}

// Materialize creates the order for checkoutID, or returns the existing one.
// Concurrent and repeated calls for the same checkout converge on a single
// order, a single redemption and a single coupon usage increment.
func (m *Materializer) Materialize(ctx context.Context, checkoutID uuid.UUID, gatewayFee pricing.Money) (Result, error) {
	return m.MaterializeCharge(ctx, checkoutID, Charge{GatewayFee: gatewayFee})
}

// MaterializeCharge is Materialize for a specific payment. A new order records
// the payment ID; an existing order is returned untouched so callers can tell
// whether it belongs to another payment.
func (m *Materializer) MaterializeCharge(ctx context.Context, checkoutID uuid.UUID, ch Charge) (res Result, err error) {
	ctx, span := otel.Tracer("order").Start(ctx, "order.materialize")
	span.SetAttributes(attribute.String("checkout.id", checkoutID.String()))
	defer func() {
		result := "created"
		switch {
		case errors.Is(err, ErrQuoteChanged):
			result = "quote_changed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case err != nil:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !res.Created:
			result = "replayed"
		}
		obs.Inc(obs.OrderMaterializeTotal, result)
		span.End()
	}()

	if m == nil || m.UoW == nil || m.Orders == nil || m.Variants == nil {
		return Result{}, errors.New("order materializer not configured")
	}
	if m.Locker == nil {
		return m.materialize(ctx, checkoutID, ch)
	}
	ttl := m.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	err = m.Locker.WithLock(ctx, LockKey(checkoutID), ttl, func(ctx context.Context) error {
		var inner error
		res, inner = m.materialize(ctx, checkoutID, ch)
		return inner
	})
	return res, err
}

// LockKey is the distributed lock key guarding materialization of a checkout.
func LockKey(checkoutID uuid.UUID) string {
	return "lock:checkout:materialize:" + checkoutID.String()
}

func (m *Materializer) materialize(ctx context.Context, checkoutID uuid.UUID, ch Charge) (Result, error) {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	log := m.logger(ctx).With().Str("checkout_id", checkoutID.String()).Logger()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := m.attempt(ctx, checkoutID, ch)
		switch {
		case err == nil:
			if res.Created {
				log.Info().Str("order_id", res.Order.ID.String()).Int64("order_number", res.Order.Number).Msg("order materialized")
				m.emitCreated(ctx, res.Order)
			}
			return res, nil
		case errors.Is(err, ErrAlreadyMaterialized):
			existing, loadErr := m.Orders.OrderByCheckout(ctx, checkoutID)
			if loadErr != nil {
				return Result{}, fmt.Errorf("load existing order: %w", loadErr)
			}
			return Result{Order: existing}, nil
		case errors.Is(err, ErrOrderNumberCollision):
			lastErr = err
			if obs.OrderMaterializeRetries != nil {
				obs.OrderMaterializeRetries.Inc()
			}
			log.Warn().Int("attempt", attempt).Msg("order number collision, retrying")
			continue
		default:
			return Result{}, err
		}
	}
	return Result{}, fmt.Errorf("materialize after %d attempts: %w", attempts, lastErr)
}

func (m *Materializer) attempt(ctx context.Context, checkoutID uuid.UUID, ch Charge) (Result, error) {
	var res Result
	err := m.UoW.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		co, err := tx.LockCheckout(ctx, checkoutID)
		if err != nil {
			return err
		}
		existing, err := tx.OrderByCheckout(ctx, checkoutID)
		if err == nil {
			res = Result{Order: existing}
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if len(co.Quote.Lines) == 0 {
			return ErrEmptyCheckout
		}
		if err := ch.covers(co.Quote); err != nil {
			return err
		}

		number, err := tx.NextOrderNumber(ctx)
		if err != nil {
			return fmt.Errorf("allocate order number: %w", err)
		}
		o, err := m.build(ctx, co, number, ch)
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if o.CouponID != nil {
			inserted, err := tx.InsertRedemption(ctx, Redemption{
				ID:              uuid.New(),
				CouponID:        *o.CouponID,
				OrderID:         o.ID,
				UserID:          o.UserID,
				DiscountApplied: o.CouponDiscount,
				CreatedAt:       o.PlacedAt,
			})
			if err != nil {
				return fmt.Errorf("record coupon redemption: %w", err)
			}
			if inserted {
				if err := tx.IncrementCouponUsage(ctx, *o.CouponID); err != nil {
					return fmt.Errorf("increment coupon usage: %w", err)
				}
			}
		}
		if m.Stock != nil {
			if err := m.Stock.Reserve(ctx, tx, o); err != nil {
				return fmt.Errorf("reserve stock: %w", err)
			}
		}
		if err := tx.MarkCheckoutOrdered(ctx, checkoutID, o.PlacedAt); err != nil {
			return err
		}
		res = Result{Order: o, Created: true}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (m *Materializer) build(ctx context.Context, co checkout.Checkout, number int64, ch Charge) (Order, error) {
	q := co.Quote
	ids := make([]uuid.UUID, 0, len(q.Lines))
	for _, l := range q.Lines {
		ids = append(ids, l.VariantID)
	}
	variants, err := m.Variants.Variants(ctx, ids)
	if err != nil {
		return Order{}, fmt.Errorf("load variants: %w", err)
	}

	now := m.now()
	gatewayFee := ch.GatewayFee
	if gatewayFee.Currency == "" {
		gatewayFee = pricing.New(gatewayFee.Amount, q.Currency)
	}
	o := Order{
		ID:               uuid.New(),
		Number:           number,
		CheckoutID:       co.ID,
		UserID:           co.UserID,
		Contact:          co.Contact,
		ShippingAddress:  co.ShippingAddress,
		DeliveryOption:   co.DeliveryOption,
		PaymentMethod:    co.PaymentMethod,
		Status:           StatusPaid,
		Currency:         q.Currency,
		ItemsSubtotal:    q.ItemsSubtotal,
		CouponDiscount:   q.CouponDiscount,
		GlobalDiscount:   q.GlobalDiscount,
		ShippingFee:      q.ShippingFee,
		Tax:              pricing.Zero(q.Currency),
		GatewayFee:       gatewayFee,
		Payable:          q.Payable,
		RefundAmount:     pricing.Zero(q.Currency),
		CouponID:         q.CouponID,
		CouponCode:       q.CouponCode,
		GlobalDiscountID: q.GlobalDiscountID,
		PlacedAt:         now,
		PaidAt:           &now,
		UpdatedAt:        now,
	}
	if ch.PaymentID != uuid.Nil {
		paymentID := ch.PaymentID
		o.PaymentID = &paymentID
	}
	o.Lines = make([]Line, 0, len(q.Lines))
	for _, ql := range q.Lines {
		v, ok := variants[ql.VariantID]
		if !ok {
			return Order{}, fmt.Errorf("%w: %s", catalog.ErrVariantNotFound, ql.VariantID)
		}
		o.Lines = append(o.Lines, Line{
			ID:           uuid.New(),
			OrderID:      o.ID,
			VariantID:    ql.VariantID,
			ProductName:  v.ProductName,
			SKU:          v.SKU,
			Attributes:   Attributes{WeightGrams: v.WeightGrams, Grind: string(v.Grind)},
			Qty:          ql.Qty,
			UnitPrice:    ql.UnitPrice,
			LineDiscount: ql.LineDiscount,
			LineTotal:    ql.LineTotal,
		})
	}
	return o, nil
}

func (m *Materializer) emitCreated(ctx context.Context, o Order) {
	if m.Events == nil {
		return
	}
	payload := map[string]any{
		"orderId":    o.ID,
		"number":     o.Number,
		"checkoutId": o.CheckoutID,
		"payable":    o.Payable.Amount,
		"currency":   o.Currency,
	}
	for _, topic := range []string{events.TopicOrderCreated, events.TopicOrderPaid} {
		if _, err := m.Events.Emit(ctx, topic, o.ID, payload); err != nil {
			m.logger(ctx).Warn().Err(err).Str("topic", topic).Msg("emit order event")
		}
	}
}

func (m *Materializer) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Materializer) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if m.Logger != nil {
		return m.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
