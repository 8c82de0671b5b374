package promotion

import (
	"time"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// Input is everything the engine needs to price promotions. Coupon and
// Global are read once by the caller so a single evaluation sees a
// consistent view of both.
type Input struct {
	Subtotal pricing.Money
	// Eligible is the part of Subtotal a scoped coupon applies to. Nil means
	// the whole subtotal.
	Eligible *pricing.Money
	Coupon   *Coupon
	Global   *GlobalDiscount
	Now      time.Time
}

// Result is the outcome of applying promotions to a subtotal.
type Result struct {
	CouponDiscount        pricing.Money `json:"couponDiscount"`
	GlobalDiscount        pricing.Money `json:"globalDiscount"`
	PayableBeforeShipping pricing.Money `json:"payableBeforeShipping"`
	CouponApplied         bool          `json:"couponApplied"`
	GlobalApplied         bool          `json:"globalApplied"`
	// CouponRejection explains why a supplied coupon was not applied.
	CouponRejection error `json:"-"`
}

// ApplySimple applies an optional coupon and global discount to a subtotal.
func ApplySimple(subtotal pricing.Money, coupon *Coupon, global *GlobalDiscount, now time.Time) Result {
	return Apply(Input{Subtotal: subtotal, Coupon: coupon, Global: global, Now: now})
}

// Apply computes coupon and global discounts. The coupon is taken off the
// raw subtotal first and the global percentage applies to what remains. The
// function is pure and never touches usage counters.
func Apply(in Input) Result {
	currency := in.Subtotal.Currency
	subtotal := in.Subtotal.ClampZero()
	res := Result{
		CouponDiscount: pricing.Zero(currency),
		GlobalDiscount: pricing.Zero(currency),
	}

	if in.Coupon != nil {
		discount, err := couponDiscount(*in.Coupon, subtotal, in.Eligible, in.Now)
		if err != nil {
			res.CouponRejection = err
		} else {
			res.CouponDiscount = discount
			res.CouponApplied = true
		}
	}

	remainder, _ := subtotal.Sub(res.CouponDiscount)
	remainder = remainder.ClampZero()

	if in.Global != nil && in.Global.LiveAt(in.Now) {
		off, _ := remainder.Percent(clampPercent(int64(in.Global.PercentOff)))
		res.GlobalDiscount = off
		res.GlobalApplied = true
	}

	payable, _ := remainder.Sub(res.GlobalDiscount)
	res.PayableBeforeShipping = payable.ClampZero()
	return res
}

func couponDiscount(c Coupon, subtotal pricing.Money, eligible *pricing.Money, now time.Time) (pricing.Money, error) {
	if err := c.Validate(now, subtotal); err != nil {
		return pricing.Money{}, err
	}
	base := subtotal
	if eligible != nil {
		base = eligible.ClampZero().Min(subtotal)
		if base.IsZero() && !subtotal.IsZero() {
			return pricing.Money{}, ErrCouponNotApplicable
		}
	}
	switch c.Kind {
	case KindPercent:
		d, _ := base.Percent(clampPercent(c.Value))
		return d, nil
	case KindFixed:
		if c.Value <= 0 {
			return pricing.Zero(base.Currency), nil
		}
		return base.Min(pricing.New(c.Value, base.Currency)), nil
	default:
		return pricing.Money{}, ErrCouponNotApplicable
	}
}

func clampPercent(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
