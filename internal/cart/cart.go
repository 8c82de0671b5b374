package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// Cart is a shopper's basket. A cart belongs to a user or, before login, to
// an anonymous visitor id.
type Cart struct {
	ID          uuid.UUID  `json:"id"`
	UserID      *uuid.UUID `json:"userId,omitempty"`
	AnonymousID *uuid.UUID `json:"anonymousId,omitempty"`
	Currency    string     `json:"currency"`
	CouponCode  string     `json:"couponCode,omitempty"`
	Lines       []Line     `json:"lines"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Line is one variant in a cart. There is at most one line per variant.
// UnitPriceSnapshot is the price seen when the line was last touched; it is
// for display only and never used to price a checkout.
type Line struct {
	ID                uuid.UUID     `json:"id"`
	VariantID         uuid.UUID     `json:"variantId"`
	Qty               int           `json:"qty"`
	UnitPriceSnapshot pricing.Money `json:"unitPriceSnapshot"`
	LineDiscount      pricing.Money `json:"lineDiscount"`
	AddedAt           time.Time     `json:"addedAt"`
}

// Line returns the line for variantID, if any.
func (c Cart) Line(variantID uuid.UUID) (Line, bool) {
	for _, l := range c.Lines {
		if l.VariantID == variantID {
			return l, true
		}
	}
	return Line{}, false
}

// Store captures the persistence operations required by the cart service.
type Store interface {
	CreateCart(ctx context.Context, c Cart) (Cart, error)
	// Cart returns ErrNotFound when no cart matches.
	Cart(ctx context.Context, id uuid.UUID) (Cart, error)
	CartByUser(ctx context.Context, userID uuid.UUID) (Cart, error)
	CartByAnonymousID(ctx context.Context, anonID uuid.UUID) (Cart, error)
	// UpsertLine stores the line keyed by (cart, variant), replacing any
	// existing quantity.
	UpsertLine(ctx context.Context, cartID uuid.UUID, l Line) (Line, error)
	// MergeLine holds the cart exclusively, passes merge the current line for
	// the variant and stores the line merge returns. An error from merge
	// leaves the cart unchanged.
	MergeLine(ctx context.Context, cartID, variantID uuid.UUID, merge func(existing Line, exists bool) (Line, error)) (Line, error)
	DeleteLine(ctx context.Context, cartID, variantID uuid.UUID) error
	SetCoupon(ctx context.Context, cartID uuid.UUID, code string) error
}
