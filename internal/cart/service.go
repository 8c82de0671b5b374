package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

// Service encapsulates cart domain operations.
type Service struct {
	Store      Store
	Variants   catalog.VariantStore
	Prices     *catalog.Resolver
	Promotions *promotion.Service
	Currency   string
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) currency() string {
	if s == nil || s.Currency == "" {
		return pricing.DefaultCurrency
	}
	return s.Currency
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil || s.Variants == nil || s.Prices == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// EnsureCart loads or creates a cart for the provided identifiers. The user
// id wins when both are present.
func (s *Service) EnsureCart(ctx context.Context, userID, anonID *uuid.UUID) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	var (
		existing Cart
		err      error
	)
	switch {
	case userID != nil:
		existing, err = s.Store.CartByUser(ctx, *userID)
	case anonID != nil:
		existing, err = s.Store.CartByAnonymousID(ctx, *anonID)
	default:
		return Cart{}, fmt.Errorf("user or anonymous id required: %w", ErrInvalidInput)
	}
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Cart{}, err
	}
	now := s.now()
	c := Cart{
		ID:        uuid.New(),
		Currency:  s.currency(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != nil {
		c.UserID = userID
	} else {
		c.AnonymousID = anonID
	}
	return s.Store.CreateCart(ctx, c)
}

// Get loads a cart.
func (s *Service) Get(ctx context.Context, cartID uuid.UUID) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	return s.Store.Cart(ctx, cartID)
}

// AddItem adds qty of a variant, merging into the existing line for that
// variant. The merged quantity must satisfy the variant's per-order bounds.
// Concurrent adds to the same cart are merged one at a time by the store.
func (s *Service) AddItem(ctx context.Context, cartID, variantID uuid.UUID, qty int) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	if qty <= 0 {
		return Cart{}, fmt.Errorf("qty must be positive: %w", catalog.ErrInvalidQuantity)
	}
	c, err := s.Store.Cart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	variant, price, err := s.sellable(ctx, variantID)
	if err != nil {
		return Cart{}, err
	}
	_, err = s.Store.MergeLine(ctx, cartID, variantID, func(existing Line, exists bool) (Line, error) {
		merged := qty
		if exists {
			merged += existing.Qty
		}
		if err := variant.CheckQuantity(merged); err != nil {
			return Line{}, err
		}
		return s.line(c.Currency, variantID, merged, price, existing, exists), nil
	})
	if err != nil {
		return Cart{}, err
	}
	return s.Store.Cart(ctx, cartID)
}

// UpdateQty sets the quantity of a line. A quantity of zero removes it.
func (s *Service) UpdateQty(ctx context.Context, cartID, variantID uuid.UUID, qty int) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	if qty < 0 {
		return Cart{}, fmt.Errorf("qty must not be negative: %w", catalog.ErrInvalidQuantity)
	}
	c, err := s.Store.Cart(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	line, exists := c.Line(variantID)
	if !exists {
		return Cart{}, fmt.Errorf("variant %s not in cart: %w", variantID, ErrNotFound)
	}
	if qty == 0 {
		return s.RemoveItem(ctx, cartID, variantID)
	}
	if err := s.storeLine(ctx, c, variantID, qty, line, true); err != nil {
		return Cart{}, err
	}
	return s.Store.Cart(ctx, cartID)
}

func (s *Service) storeLine(ctx context.Context, c Cart, variantID uuid.UUID, qty int, existing Line, exists bool) error {
	variant, price, err := s.sellable(ctx, variantID)
	if err != nil {
		return err
	}
	if err := variant.CheckQuantity(qty); err != nil {
		return err
	}
	_, err = s.Store.UpsertLine(ctx, c.ID, s.line(c.Currency, variantID, qty, price, existing, exists))
	return err
}

// sellable loads an active variant and its current price.
func (s *Service) sellable(ctx context.Context, variantID uuid.UUID) (catalog.Variant, pricing.Money, error) {
	variant, err := s.Variants.Variant(ctx, variantID)
	if err != nil {
		return catalog.Variant{}, pricing.Money{}, err
	}
	if !variant.Active {
		return catalog.Variant{}, pricing.Money{}, fmt.Errorf("%w: %s", catalog.ErrVariantUnavailable, variant.SKU)
	}
	price, err := s.Prices.Resolve(ctx, variantID, s.now())
	if err != nil {
		return catalog.Variant{}, pricing.Money{}, err
	}
	return variant, price, nil
}

func (s *Service) line(currency string, variantID uuid.UUID, qty int, price pricing.Money, existing Line, exists bool) Line {
	l := Line{
		ID:                uuid.New(),
		VariantID:         variantID,
		Qty:               qty,
		UnitPriceSnapshot: price,
		LineDiscount:      pricing.Zero(currency),
		AddedAt:           s.now(),
	}
	if exists {
		l.ID = existing.ID
		l.LineDiscount = existing.LineDiscount
		l.AddedAt = existing.AddedAt
	}
	return l
}

// RemoveItem deletes the line for a variant.
func (s *Service) RemoveItem(ctx context.Context, cartID, variantID uuid.UUID) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	if err := s.Store.DeleteLine(ctx, cartID, variantID); err != nil {
		return Cart{}, err
	}
	return s.Store.Cart(ctx, cartID)
}

// ApplyCoupon attaches a coupon code to the cart. Unknown or dead codes are
// rejected here; thresholds and caps are re-evaluated at quote time.
func (s *Service) ApplyCoupon(ctx context.Context, cartID uuid.UUID, code string) (Cart, error) {
	if s == nil || s.Store == nil || s.Promotions == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	if _, err := s.Store.Cart(ctx, cartID); err != nil {
		return Cart{}, err
	}
	coupon, err := s.Promotions.Lookup(ctx, code)
	if err != nil {
		return Cart{}, err
	}
	if !coupon.LiveAt(s.now()) {
		return Cart{}, promotion.ErrCouponInactiveOrExpired
	}
	if err := s.Store.SetCoupon(ctx, cartID, coupon.Code); err != nil {
		return Cart{}, err
	}
	return s.Store.Cart(ctx, cartID)
}

// RemoveCoupon detaches any coupon from the cart.
func (s *Service) RemoveCoupon(ctx context.Context, cartID uuid.UUID) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	if err := s.Store.SetCoupon(ctx, cartID, ""); err != nil {
		return Cart{}, err
	}
	return s.Store.Cart(ctx, cartID)
}
