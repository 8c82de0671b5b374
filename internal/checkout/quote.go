package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

const defaultQuoteConcurrency = 8

// Pricer turns a cart into a Quote. Unit prices are always re-resolved at
// quote time; the cart's price snapshots are ignored.
type Pricer struct {
	Variants    catalog.VariantStore
	Prices      *catalog.Resolver
	Promotions  *promotion.Service
	Concurrency int
}

// Quote prices the cart at now with the given shipping fee. It does not
// persist anything.
func (p *Pricer) Quote(ctx context.Context, c cart.Cart, shippingFee pricing.Money, now time.Time) (q Quote, err error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.quote")
	span.SetAttributes(attribute.String("cart.id", c.ID.String()), attribute.Int("cart.lines", len(c.Lines)))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		obs.Inc(obs.CheckoutQuoteTotal, result)
		span.End()
	}()

	if p == nil || p.Variants == nil || p.Prices == nil || p.Promotions == nil {
		return Quote{}, errors.New("checkout pricer not configured")
	}
	currency := c.Currency
	if currency == "" {
		currency = pricing.DefaultCurrency
	}
	if shippingFee.Currency == "" {
		shippingFee = pricing.New(shippingFee.Amount, currency)
	}
	if shippingFee.IsNegative() {
		return Quote{}, ErrInvalidShippingFee
	}
	lines := make([]cart.Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.Qty > 0 {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return Quote{}, ErrEmptyCart
	}

	priced, err := p.priceLines(ctx, currency, lines, now)
	if err != nil {
		return Quote{}, err
	}

	subtotal := pricing.Zero(currency)
	items := make([]promotion.Item, 0, len(priced))
	for _, pl := range priced {
		if subtotal, err = subtotal.Add(pl.line.LineTotal); err != nil {
			return Quote{}, err
		}
		items = append(items, promotion.Item{
			ProductID:  pl.variant.ProductID,
			CategoryID: pl.variant.CategoryID,
			Total:      pl.line.LineTotal,
		})
	}

	ev, err := p.Promotions.Evaluate(ctx, promotion.EvaluateInput{
		Code:     c.CouponCode,
		UserID:   c.UserID,
		Subtotal: subtotal,
		Items:    items,
		Now:      now,
	})
	if err != nil {
		return Quote{}, fmt.Errorf("evaluate promotions: %w", err)
	}

	payable, err := ev.PayableBeforeShipping.Add(shippingFee)
	if err != nil {
		return Quote{}, err
	}

	q = Quote{
		Currency:       currency,
		Lines:          make([]QuoteLine, 0, len(priced)),
		ItemsSubtotal:  subtotal,
		CouponDiscount: ev.CouponDiscount,
		GlobalDiscount: ev.GlobalDiscount,
		ShippingFee:    shippingFee,
		Payable:        payable.ClampZero(),
		ComputedAt:     now,
	}
	for _, pl := range priced {
		q.Lines = append(q.Lines, pl.line)
	}
	if ev.CouponApplied && ev.Coupon != nil {
		id := ev.Coupon.ID
		q.CouponID = &id
		q.CouponCode = ev.Coupon.Code
	}
	if ev.GlobalApplied && ev.Global != nil {
		id := ev.Global.ID
		q.GlobalDiscountID = &id
	}
	if ev.CouponRejection != nil {
		q.Warnings = append(q.Warnings, couponWarning(ev.CouponRejection))
	}
	span.SetAttributes(attribute.Int64("quote.payable", q.Payable.Amount))
	return q, nil
}

type pricedLine struct {
	variant catalog.Variant
	line    QuoteLine
}

func (p *Pricer) priceLines(ctx context.Context, currency string, lines []cart.Line, now time.Time) ([]pricedLine, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.VariantID)
	}
	variants, err := p.Variants.Variants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}

	for _, l := range lines {
		variant, ok := variants[l.VariantID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrVariantNotFound, l.VariantID)
		}
		if !variant.Active {
			return nil, fmt.Errorf("%w: %s", ErrVariantUnavailable, variant.SKU)
		}
	}

	out := make([]pricedLine, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = defaultQuoteConcurrency
	}
	g.SetLimit(limit)
	for i, l := range lines {
		variant := variants[l.VariantID]
		g.Go(func() error {
			unit, err := p.Prices.Resolve(gctx, l.VariantID, now)
			if err != nil {
				return err
			}
			discount := l.LineDiscount
			if discount.Currency == "" {
				discount = pricing.Zero(currency)
			}
			total, err := pricing.Line{Qty: int64(l.Qty), UnitPrice: unit, LineDiscount: discount}.Total()
			if err != nil {
				return err
			}
			out[i] = pricedLine{
				variant: variant,
				line: QuoteLine{
					VariantID:    l.VariantID,
					ProductID:    variant.ProductID,
					Qty:          l.Qty,
					UnitPrice:    unit,
					LineDiscount: discount,
					LineTotal:    total,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func couponWarning(err error) Warning {
	code := "COUPON_NOT_APPLIED"
	switch {
	case errors.Is(err, promotion.ErrCouponNotFound):
		code = "COUPON_NOT_FOUND"
	case errors.Is(err, promotion.ErrCouponInactiveOrExpired):
		code = "COUPON_INACTIVE_OR_EXPIRED"
	case errors.Is(err, promotion.ErrCouponMinimumNotMet):
		code = "COUPON_MINIMUM_NOT_MET"
	case errors.Is(err, promotion.ErrCouponNotApplicable):
		code = "COUPON_NOT_APPLICABLE"
	case errors.Is(err, promotion.ErrCouponUsageLimitReached), errors.Is(err, promotion.ErrCouponPerUserLimitReached):
		code = "COUPON_USAGE_LIMIT"
	}
	obs.Inc(obs.CouponRejectedTotal, code)
	return Warning{Code: code, Message: err.Error()}
}
