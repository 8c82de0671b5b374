package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

// CheckoutReader loads checkouts.
type CheckoutReader interface {
	Get(ctx context.Context, id uuid.UUID) (checkout.Checkout, error)
}

// Materializer turns a paid checkout into its order.
type Materializer interface {
	MaterializeCharge(ctx context.Context, checkoutID uuid.UUID, ch order.Charge) (order.Result, error)
}

// CouponChecker re-reads coupon caps right before a payment is opened.
type CouponChecker interface {
	Lookup(ctx context.Context, code string) (promotion.Coupon, error)
	CheckUsage(ctx context.Context, c promotion.Coupon, userID *uuid.UUID) error
}

// Service coordinates payment start and verification.
type Service struct {
	Store          Store
	Checkouts      CheckoutReader
	Orders         Materializer
	Coupons        CouponChecker
	Gateways       map[string]Gateway
	DefaultGateway string
	// CallbackURL is the public base URL gateways redirect back to; the
	// gateway name is appended.
	CallbackURL string
	Events      *events.Bus
	Logger      *zerolog.Logger
	Now         func() time.Time
}

// Outcome is the result of verifying a payment.
type Outcome struct {
	Payment Payment      `json:"payment"`
	Order   *order.Order `json:"order,omitempty"`
}

// Gateway returns the named gateway, or the default when name is empty.
func (s *Service) Gateway(name string) (Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = s.DefaultGateway
	}
	gw, ok := s.Gateways[name]
	if !ok || gw == nil {
		return nil, fmt.Errorf("%w: %q", ErrGatewayNotSupported, name)
	}
	return gw, nil
}

// Start opens a payment for a started checkout and records it as initiated.
func (s *Service) Start(ctx context.Context, checkoutID uuid.UUID, gatewayName string) (p Payment, redirect Redirect, err error) {
	if s == nil || s.Store == nil || s.Checkouts == nil {
		return Payment{}, Redirect{}, errors.New("payment service not configured")
	}
	gw, err := s.Gateway(gatewayName)
	if err != nil {
		return Payment{}, Redirect{}, err
	}
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.start")
	span.SetAttributes(attribute.String("checkout.id", checkoutID.String()), attribute.String("payment.gateway", gw.Name()))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		obs.Inc(obs.PaymentStartTotal, gw.Name(), result)
		span.End()
	}()

	co, err := s.Checkouts.Get(ctx, checkoutID)
	if err != nil {
		return Payment{}, Redirect{}, err
	}
	if co.Status != checkout.StatusStarted {
		return Payment{}, Redirect{}, fmt.Errorf("%w: status %s", checkout.ErrCheckoutClosed, co.Status)
	}
	amount := co.Quote.Payable
	if amount.Amount <= 0 {
		return Payment{}, Redirect{}, ErrNothingToPay
	}
	if err := s.checkCoupon(ctx, co); err != nil {
		return Payment{}, Redirect{}, err
	}
	redirect, err = gw.Request(ctx, Request{
		CheckoutID:  co.ID,
		Amount:      amount,
		CallbackURL: strings.TrimRight(s.CallbackURL, "/") + "/" + gw.Name(),
		Description: fmt.Sprintf("Checkout %s", co.ID),
		Mobile:      co.Contact.Phone,
		Email:       co.Contact.Email,
	})
	if err != nil {
		return Payment{}, Redirect{}, fmt.Errorf("request payment: %w", err)
	}
	now := s.now()
	p, err = s.Store.CreatePayment(ctx, Payment{
		ID:          uuid.New(),
		CheckoutID:  co.ID,
		Gateway:     gw.Name(),
		Status:      StatusInitiated,
		Amount:      amount,
		GatewayFee:  pricing.Zero(amount.Currency),
		Authority:   redirect.Authority,
		QuoteDigest: co.Quote.Digest(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Payment{}, Redirect{}, fmt.Errorf("save payment: %w", err)
	}
	return p, redirect, nil
}

// checkCoupon rejects a quote whose coupon ran out of uses after it was
// quoted. Payments already in flight for the same coupon are not counted.
func (s *Service) checkCoupon(ctx context.Context, co checkout.Checkout) error {
	if s.Coupons == nil || co.Quote.CouponID == nil {
		return nil
	}
	c, err := s.Coupons.Lookup(ctx, co.Quote.CouponCode)
	if err != nil {
		return fmt.Errorf("recheck coupon: %w", err)
	}
	return s.Coupons.CheckUsage(ctx, c, co.UserID)
}

// Verify settles a gateway callback. Successful payments materialize the
// order; failed ones are recorded and never produce an order. Verifying a
// payment that already succeeded returns the same order again.
//
// A payment only settles the quote it was opened for. When the checkout was
// re-quoted or paid by another payment before capture, the payment fails.
// When that is only discovered after capture, the payment is moved to
// refund_pending and ErrRefundRequired is returned.
func (s *Service) Verify(ctx context.Context, gatewayName string, cb Callback) (out Outcome, err error) {
	if s == nil || s.Store == nil || s.Orders == nil {
		return Outcome{}, errors.New("payment service not configured")
	}
	gw, err := s.Gateway(gatewayName)
	if err != nil {
		return Outcome{}, err
	}
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.verify")
	span.SetAttributes(attribute.String("payment.gateway", gw.Name()), attribute.String("payment.authority", cb.Authority))
	result := "error"
	defer func() {
		if errors.Is(err, ErrRefundRequired) {
			result = "refund_required"
		}
		if err != nil && !errors.Is(err, ErrNotAuthorized) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		obs.Inc(obs.PaymentVerifyTotal, gw.Name(), result)
		span.End()
	}()

	p, err := s.Store.PaymentByAuthority(ctx, gw.Name(), cb.Authority)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case p.Status.Succeeded():
		result = "replayed"
		return s.settle(ctx, p)
	case p.Status == StatusFailed:
		result = "failed"
		return Outcome{Payment: p}, ErrNotAuthorized
	case p.Status == StatusRefundPending:
		return Outcome{Payment: p}, fmt.Errorf("%w: %s", ErrRefundRequired, p.FailureReason)
	}

	if !cb.OK {
		result = "failed"
		return s.fail(ctx, p, "cancelled at gateway", nil)
	}
	reason, err := s.stale(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	if reason != "" {
		result = "failed"
		return s.fail(ctx, p, reason, nil)
	}
	v, err := gw.Verify(ctx, p.Authority, p.Amount)
	if err != nil {
		return Outcome{}, fmt.Errorf("verify payment: %w", err)
	}
	if !v.Status.Succeeded() {
		result = "failed"
		reason = v.Reason
		if reason == "" {
			reason = "declined by gateway"
		}
		return s.fail(ctx, p, reason, v.Raw)
	}

	p.Status = v.Status
	p.RefID = v.RefID
	p.GatewayFee = v.Fee
	p.RawResponse = v.Raw
	p.UpdatedAt = s.now()
	if err := s.Store.UpdatePayment(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("update payment: %w", err)
	}
	result = "captured"
	return s.settle(ctx, p)
}

// stale reports why p can no longer pay its checkout, or "" when it can.
func (s *Service) stale(ctx context.Context, p Payment) (string, error) {
	if s.Checkouts == nil {
		return "", nil
	}
	co, err := s.Checkouts.Get(ctx, p.CheckoutID)
	if err != nil {
		return "", fmt.Errorf("load checkout: %w", err)
	}
	switch {
	case co.Status == checkout.StatusOrdered:
		return reasonAlreadyPaid, nil
	case !p.covers(co.Quote):
		return reasonRequoted, nil
	}
	return "", nil
}

const (
	reasonAlreadyPaid = "checkout already paid by another payment"
	reasonRequoted    = "checkout re-quoted after payment was opened"
)

func (p Payment) covers(q checkout.Quote) bool {
	if p.Amount.Amount != q.Payable.Amount {
		return false
	}
	return p.QuoteDigest == "" || p.QuoteDigest == q.Digest()
}

func (s *Service) settle(ctx context.Context, p Payment) (Outcome, error) {
	res, err := s.Orders.MaterializeCharge(ctx, p.CheckoutID, order.Charge{
		PaymentID:   p.ID,
		Amount:      p.Amount,
		QuoteDigest: p.QuoteDigest,
		GatewayFee:  p.GatewayFee,
	})
	if errors.Is(err, order.ErrQuoteChanged) {
		return s.refund(ctx, p, nil, reasonRequoted)
	}
	if err != nil {
		return Outcome{Payment: p}, fmt.Errorf("materialize order: %w", err)
	}
	if owner := res.Order.PaymentID; owner != nil && *owner != p.ID {
		o := res.Order
		return s.refund(ctx, p, &o, reasonAlreadyPaid)
	}
	if p.OrderID == nil || *p.OrderID != res.Order.ID {
		id := res.Order.ID
		p.OrderID = &id
		p.UpdatedAt = s.now()
		if err := s.Store.UpdatePayment(ctx, p); err != nil {
			return Outcome{}, fmt.Errorf("link payment to order: %w", err)
		}
	}
	o := res.Order
	return Outcome{Payment: p, Order: &o}, nil
}

func (s *Service) fail(ctx context.Context, p Payment, reason string, raw []byte) (Outcome, error) {
	p.Status = StatusFailed
	p.FailureReason = reason
	if raw != nil {
		p.RawResponse = raw
	}
	p.UpdatedAt = s.now()
	if err := s.Store.UpdatePayment(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("update payment: %w", err)
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicPaymentFailed, p.CheckoutID, map[string]any{
			"paymentId":  p.ID,
			"checkoutId": p.CheckoutID,
			"gateway":    p.Gateway,
			"reason":     reason,
		}); err != nil {
			s.logger(ctx).Warn().Err(err).Msg("emit payment failed")
		}
	}
	s.logger(ctx).Info().Str("payment_id", p.ID.String()).Str("reason", reason).Msg("payment failed")
	return Outcome{Payment: p}, ErrNotAuthorized
}

// refund parks a captured payment that produced no order of its own.
func (s *Service) refund(ctx context.Context, p Payment, existing *order.Order, reason string) (Outcome, error) {
	p.Status = StatusRefundPending
	p.FailureReason = reason
	p.UpdatedAt = s.now()
	if err := s.Store.UpdatePayment(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("update payment: %w", err)
	}
	payload := map[string]any{
		"paymentId":  p.ID,
		"checkoutId": p.CheckoutID,
		"gateway":    p.Gateway,
		"refId":      p.RefID,
		"amount":     p.Amount.Amount,
		"currency":   p.Amount.Currency,
		"reason":     reason,
	}
	if existing != nil {
		payload["orderId"] = existing.ID
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicPaymentRefundRequired, p.CheckoutID, payload); err != nil {
			s.logger(ctx).Warn().Err(err).Msg("emit payment refund required")
		}
	}
	s.logger(ctx).Warn().
		Str("payment_id", p.ID.String()).
		Str("checkout_id", p.CheckoutID.String()).
		Int64("amount", p.Amount.Amount).
		Str("reason", reason).
		Msg("captured payment needs refund")
	return Outcome{Payment: p, Order: existing}, fmt.Errorf("%w: %s", ErrRefundRequired, reason)
}

// Lookup returns the payment for an authority and its order when linked.
func (s *Service) Lookup(ctx context.Context, gatewayName, authority string) (Payment, error) {
	gw, err := s.Gateway(gatewayName)
	if err != nil {
		return Payment{}, err
	}
	return s.Store.PaymentByAuthority(ctx, gw.Name(), authority)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
