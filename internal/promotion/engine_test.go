package promotion

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func toman(v int64) pricing.Money { return pricing.New(v, "TOM") }

func percentCoupon(v int64) *Coupon {
	return &Coupon{ID: uuid.New(), Code: "WELCOME10", Kind: KindPercent, Value: v, Active: true}
}

func fixedCoupon(v int64) *Coupon {
	return &Coupon{ID: uuid.New(), Code: "FLAT", Kind: KindFixed, Value: v, Active: true}
}

func global(pct int) *GlobalDiscount {
	return &GlobalDiscount{ID: uuid.New(), PercentOff: pct, Active: true}
}

func TestApplyCouponThenGlobal(t *testing.T) {
	res := ApplySimple(toman(1_000_000), percentCoupon(10), global(10), testNow)
	if res.CouponDiscount.Amount != 100_000 {
		t.Fatalf("coupon discount = %d, want 100000", res.CouponDiscount.Amount)
	}
	if res.GlobalDiscount.Amount != 90_000 {
		t.Fatalf("global discount = %d, want 90000", res.GlobalDiscount.Amount)
	}
	if res.PayableBeforeShipping.Amount != 810_000 {
		t.Fatalf("payable = %d, want 810000", res.PayableBeforeShipping.Amount)
	}
	if !res.CouponApplied || !res.GlobalApplied || res.CouponRejection != nil {
		t.Fatalf("unexpected flags %+v", res)
	}
}

func TestApplyFixedCouponNeverExceedsSubtotal(t *testing.T) {
	res := ApplySimple(toman(40_000), fixedCoupon(50_000), global(10), testNow)
	if res.CouponDiscount.Amount != 40_000 {
		t.Fatalf("coupon discount = %d, want 40000", res.CouponDiscount.Amount)
	}
	if res.GlobalDiscount.Amount != 0 || res.PayableBeforeShipping.Amount != 0 {
		t.Fatalf("expected zero remainder, got %+v", res)
	}
}

func TestApplyBounds(t *testing.T) {
	subtotals := []int64{0, 1, 999, 1_000, 123_457, 1_230_000, 9_999_999}
	coupons := []*Coupon{nil, percentCoupon(0), percentCoupon(10), percentCoupon(100), fixedCoupon(0), fixedCoupon(500), fixedCoupon(10_000_000)}
	globals := []*GlobalDiscount{nil, global(0), global(15), global(100)}
	for _, s := range subtotals {
		for _, c := range coupons {
			for _, g := range globals {
				res := ApplySimple(toman(s), c, g, testNow)
				if res.CouponDiscount.Amount < 0 || res.CouponDiscount.Amount > s {
					t.Fatalf("coupon discount %d out of [0,%d]", res.CouponDiscount.Amount, s)
				}
				remainder := s - res.CouponDiscount.Amount
				if res.GlobalDiscount.Amount < 0 || res.GlobalDiscount.Amount > remainder {
					t.Fatalf("global discount %d out of [0,%d]", res.GlobalDiscount.Amount, remainder)
				}
				if res.PayableBeforeShipping.Amount < 0 || res.PayableBeforeShipping.Amount > s {
					t.Fatalf("payable %d out of [0,%d]", res.PayableBeforeShipping.Amount, s)
				}
			}
		}
	}
}

func TestApplyZeroSubtotal(t *testing.T) {
	res := ApplySimple(toman(0), percentCoupon(10), global(10), testNow)
	if !res.CouponDiscount.IsZero() || !res.GlobalDiscount.IsZero() || !res.PayableBeforeShipping.IsZero() {
		t.Fatalf("expected all zero, got %+v", res)
	}
}

func TestApplyCouponMinimumNotMet(t *testing.T) {
	c := percentCoupon(10)
	min := int64(500_000)
	c.MinOrderTotal = &min
	res := ApplySimple(toman(499_999), c, global(10), testNow)
	if !errors.Is(res.CouponRejection, ErrCouponMinimumNotMet) {
		t.Fatalf("expected ErrCouponMinimumNotMet, got %v", res.CouponRejection)
	}
	if !res.CouponDiscount.IsZero() {
		t.Fatalf("coupon should not apply, got %d", res.CouponDiscount.Amount)
	}
	if res.GlobalDiscount.Amount != 49_999 {
		t.Fatalf("global discount = %d, want 49999", res.GlobalDiscount.Amount)
	}
}

func TestApplyCouponWindow(t *testing.T) {
	c := percentCoupon(10)
	end := testNow
	c.EndsAt = &end
	res := ApplySimple(toman(100_000), c, nil, testNow)
	if !errors.Is(res.CouponRejection, ErrCouponInactiveOrExpired) {
		t.Fatalf("window end is exclusive, expected rejection, got %v", res.CouponRejection)
	}

	start := testNow
	c = percentCoupon(10)
	c.StartsAt = &start
	res = ApplySimple(toman(100_000), c, nil, testNow)
	if res.CouponRejection != nil || res.CouponDiscount.Amount != 10_000 {
		t.Fatalf("window start is inclusive, got %+v", res)
	}

	inactive := percentCoupon(10)
	inactive.Active = false
	res = ApplySimple(toman(100_000), inactive, nil, testNow)
	if !errors.Is(res.CouponRejection, ErrCouponInactiveOrExpired) {
		t.Fatalf("expected inactive rejection, got %v", res.CouponRejection)
	}
}

func TestApplyInactiveGlobalIgnored(t *testing.T) {
	g := global(10)
	g.Active = false
	res := ApplySimple(toman(100_000), nil, g, testNow)
	if res.GlobalApplied || !res.GlobalDiscount.IsZero() || res.PayableBeforeShipping.Amount != 100_000 {
		t.Fatalf("inactive global discount applied: %+v", res)
	}
}

func TestApplyScopedCoupon(t *testing.T) {
	eligible := toman(300_000)
	res := Apply(Input{Subtotal: toman(1_000_000), Eligible: &eligible, Coupon: percentCoupon(10), Now: testNow})
	if res.CouponDiscount.Amount != 30_000 {
		t.Fatalf("scoped discount = %d, want 30000", res.CouponDiscount.Amount)
	}

	none := toman(0)
	res = Apply(Input{Subtotal: toman(1_000_000), Eligible: &none, Coupon: percentCoupon(10), Now: testNow})
	if !errors.Is(res.CouponRejection, ErrCouponNotApplicable) {
		t.Fatalf("expected ErrCouponNotApplicable, got %v", res.CouponRejection)
	}
}

func TestEligibleSubtotal(t *testing.T) {
	prod := uuid.New()
	cat := uuid.New()
	other := uuid.New()
	items := []Item{
		{ProductID: prod, Total: toman(100)},
		{ProductID: other, CategoryID: &cat, Total: toman(200)},
		{ProductID: other, Total: toman(400)},
	}
	if got := EligibleSubtotal("TOM", items, Coupon{}); got.Amount != 700 {
		t.Fatalf("unscoped eligible = %d, want 700", got.Amount)
	}
	scoped := Coupon{AllowedProductIDs: []uuid.UUID{prod}, AllowedCategoryIDs: []uuid.UUID{cat}}
	if got := EligibleSubtotal("TOM", items, scoped); got.Amount != 300 {
		t.Fatalf("scoped eligible = %d, want 300", got.Amount)
	}
}
