package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

var (
	// ErrNoPriceConfigured is returned when no price window covers the requested instant.
	ErrNoPriceConfigured = errors.New("catalog: no price configured")
	// ErrVariantNotFound is returned when the variant does not exist.
	ErrVariantNotFound = errors.New("catalog: variant not found")
	// ErrInvalidQuantity is returned when a quantity violates the variant's per-order bounds.
	ErrInvalidQuantity = errors.New("catalog: invalid quantity")
	// ErrVariantUnavailable is returned when a variant is not currently sold.
	ErrVariantUnavailable = errors.New("catalog: variant unavailable")
)

// NoPriceConfiguredError carries the variant that could not be priced.
type NoPriceConfiguredError struct {
	VariantID uuid.UUID
	At        time.Time
}

func (e *NoPriceConfiguredError) Error() string {
	return fmt.Sprintf("catalog: no price configured for variant %s at %s", e.VariantID, e.At.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrNoPriceConfigured) succeed.
func (e *NoPriceConfiguredError) Is(target error) bool {
	return target == ErrNoPriceConfigured
}

// Grind is the grind setting a variant is sold at.
type Grind string

const (
	GrindWhole     Grind = "whole"
	GrindExtraFine Grind = "extra_fine"
	GrindFine      Grind = "fine"
	GrindMedium    Grind = "medium"
	GrindCoarse    Grind = "coarse"
)

// Valid reports whether g is a known grind.
func (g Grind) Valid() bool {
	switch g {
	case GrindWhole, GrindExtraFine, GrindFine, GrindMedium, GrindCoarse:
		return true
	}
	return false
}

// Variant is a purchasable SKU of a product.
type Variant struct {
	ID             uuid.UUID  `json:"id"`
	ProductID      uuid.UUID  `json:"productId"`
	ProductName    string     `json:"productName"`
	CategoryID     *uuid.UUID `json:"categoryId,omitempty"`
	SKU            string     `json:"sku"`
	WeightGrams    int        `json:"weightGrams"`
	Grind          Grind      `json:"grind"`
	Active         bool       `json:"active"`
	MinQtyPerOrder int        `json:"minQtyPerOrder"`
	MaxQtyPerOrder *int       `json:"maxQtyPerOrder,omitempty"`
}

// MinQty returns the effective lower quantity bound (never below 1).
func (v Variant) MinQty() int {
	if v.MinQtyPerOrder < 1 {
		return 1
	}
	return v.MinQtyPerOrder
}

// CheckQuantity validates qty against the per-order bounds.
func (v Variant) CheckQuantity(qty int) error {
	if qty < v.MinQty() {
		return fmt.Errorf("%w: %d is below minimum %d for %s", ErrInvalidQuantity, qty, v.MinQty(), v.SKU)
	}
	if v.MaxQtyPerOrder != nil && qty > *v.MaxQtyPerOrder {
		return fmt.Errorf("%w: %d exceeds maximum %d for %s", ErrInvalidQuantity, qty, *v.MaxQtyPerOrder, v.SKU)
	}
	return nil
}

// PriceWindow is a time-bounded price for a variant.
type PriceWindow struct {
	ID        uuid.UUID      `json:"id"`
	Seq       int64          `json:"seq"`
	VariantID uuid.UUID      `json:"variantId"`
	Price     pricing.Money  `json:"price"`
	CompareAt *pricing.Money `json:"compareAt,omitempty"`
	StartsAt  *time.Time     `json:"startsAt,omitempty"`
	EndsAt    *time.Time     `json:"endsAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Covers reports whether the window brackets at. The start bound is
// inclusive and the end bound exclusive.
func (w PriceWindow) Covers(at time.Time) bool {
	if w.StartsAt != nil && at.Before(*w.StartsAt) {
		return false
	}
	if w.EndsAt != nil && !at.Before(*w.EndsAt) {
		return false
	}
	return true
}

func (w PriceWindow) newerThan(o PriceWindow) bool {
	if !w.CreatedAt.Equal(o.CreatedAt) {
		return w.CreatedAt.After(o.CreatedAt)
	}
	return w.Seq > o.Seq
}
