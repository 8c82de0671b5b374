package promotion

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

var (
	// ErrCouponNotFound is returned when no coupon matches the code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponInactiveOrExpired is returned when the coupon is disabled or outside its window.
	ErrCouponInactiveOrExpired = errors.New("coupon inactive or expired")
	// ErrCouponMinimumNotMet indicates the subtotal is below the coupon's minimum order total.
	ErrCouponMinimumNotMet = errors.New("coupon minimum order total not met")
	// ErrCouponNotApplicable indicates none of the cart lines fall in the coupon's scope.
	ErrCouponNotApplicable = errors.New("coupon not applicable to cart")
	// ErrCouponUsageLimitReached indicates the coupon has exhausted its total usage quota.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrCouponPerUserLimitReached indicates the caller has exhausted their allowance.
	ErrCouponPerUserLimitReached = errors.New("coupon per-user usage limit reached")
)

// Kind is the coupon discount type.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

// Coupon captures the runtime constraints of a coupon code.
type Coupon struct {
	ID                 uuid.UUID   `json:"id"`
	Code               string      `json:"code"`
	Kind               Kind        `json:"kind"`
	Value              int64       `json:"value"`
	MinOrderTotal      *int64      `json:"minOrderTotal,omitempty"`
	MaxUsesTotal       *int        `json:"maxUsesTotal,omitempty"`
	MaxUsesPerUser     *int        `json:"maxUsesPerUser,omitempty"`
	UsedCount          int         `json:"usedCount"`
	StartsAt           *time.Time  `json:"startsAt,omitempty"`
	EndsAt             *time.Time  `json:"endsAt,omitempty"`
	Active             bool        `json:"active"`
	AllowedCategoryIDs []uuid.UUID `json:"allowedCategoryIds,omitempty"`
	AllowedProductIDs  []uuid.UUID `json:"allowedProductIds,omitempty"`
}

// NormaliseCode canonicalises a coupon code for case-insensitive matching.
func NormaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LiveAt reports whether the coupon is enabled and inside its window. The
// window end is exclusive.
func (c Coupon) LiveAt(now time.Time) bool {
	return c.Active && inWindow(c.StartsAt, c.EndsAt, now)
}

// Scoped reports whether the coupon is limited to specific products or categories.
func (c Coupon) Scoped() bool {
	return len(c.AllowedCategoryIDs) > 0 || len(c.AllowedProductIDs) > 0
}

// Validate checks activity, window and minimum order total. Usage caps are
// not checked here; see Service.CheckUsage.
func (c Coupon) Validate(now time.Time, subtotal pricing.Money) error {
	if !c.LiveAt(now) {
		return ErrCouponInactiveOrExpired
	}
	if c.MinOrderTotal != nil && subtotal.Amount < *c.MinOrderTotal {
		return ErrCouponMinimumNotMet
	}
	return nil
}

// GlobalDiscount is a store-wide percentage off applied after coupons.
type GlobalDiscount struct {
	ID         uuid.UUID  `json:"id"`
	PercentOff int        `json:"percentOff"`
	Active     bool       `json:"active"`
	StartsAt   *time.Time `json:"startsAt,omitempty"`
	EndsAt     *time.Time `json:"endsAt,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// LiveAt reports whether the discount is enabled and inside its window.
func (g GlobalDiscount) LiveAt(now time.Time) bool {
	return g.Active && inWindow(g.StartsAt, g.EndsAt, now)
}

func inWindow(start, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && !now.Before(*end) {
		return false
	}
	return true
}

// Item is a cart line as seen by coupon scoping.
type Item struct {
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
	Total      pricing.Money
}

// EligibleSubtotal sums the lines the coupon applies to. An unscoped coupon
// applies to every line.
func EligibleSubtotal(currency string, items []Item, c Coupon) pricing.Money {
	total := pricing.Zero(currency)
	for _, it := range items {
		if it.Total.Amount <= 0 {
			continue
		}
		if c.Scoped() && !c.matches(it) {
			continue
		}
		total = pricing.New(total.Amount+it.Total.Amount, total.Currency)
	}
	return total
}

func (c Coupon) matches(it Item) bool {
	for _, id := range c.AllowedProductIDs {
		if id == it.ProductID {
			return true
		}
	}
	if it.CategoryID == nil {
		return false
	}
	for _, id := range c.AllowedCategoryIDs {
		if id == *it.CategoryID {
			return true
		}
	}
	return false
}
