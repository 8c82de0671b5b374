package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// PriceStore loads the price windows configured for a variant.
type PriceStore interface {
	PriceWindows(ctx context.Context, variantID uuid.UUID) ([]PriceWindow, error)
}

// VariantStore loads variants.
type VariantStore interface {
	Variant(ctx context.Context, id uuid.UUID) (Variant, error)
	Variants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Variant, error)
}

// Resolver determines the unit price of a variant at an instant.
type Resolver struct {
	Prices PriceStore
}

// SelectWindow picks the window that prices a variant at the given instant:
// among windows covering at, the most recently created one wins, with Seq
// breaking ties on equal creation times. Windows with a negative price are
// ignored.
func SelectWindow(windows []PriceWindow, at time.Time) (PriceWindow, bool) {
	var (
		best  PriceWindow
		found bool
	)
	for _, w := range windows {
		if w.Price.IsNegative() || !w.Covers(at) {
			continue
		}
		if !found || w.newerThan(best) {
			best = w
			found = true
		}
	}
	return best, found
}

// ResolveWindow returns the window pricing variantID at the given instant.
func (r *Resolver) ResolveWindow(ctx context.Context, variantID uuid.UUID, at time.Time) (PriceWindow, error) {
	if r == nil || r.Prices == nil {
		return PriceWindow{}, fmt.Errorf("catalog: price store not configured")
	}
	windows, err := r.Prices.PriceWindows(ctx, variantID)
	if err != nil {
		return PriceWindow{}, fmt.Errorf("catalog: load price windows: %w", err)
	}
	w, ok := SelectWindow(windows, at)
	if !ok {
		return PriceWindow{}, &NoPriceConfiguredError{VariantID: variantID, At: at}
	}
	return w, nil
}

// Resolve returns the unit price of variantID at the given instant. It never
// defaults to zero: a variant without a covering window yields
// ErrNoPriceConfigured.
func (r *Resolver) Resolve(ctx context.Context, variantID uuid.UUID, at time.Time) (pricing.Money, error) {
	w, err := r.ResolveWindow(ctx, variantID, at)
	if err != nil {
		return pricing.Money{}, err
	}
	return w.Price, nil
}
