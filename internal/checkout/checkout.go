package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

var (
	// ErrNotFound indicates the checkout does not exist.
	ErrNotFound = errors.New("checkout not found")
	// ErrEmptyCart is returned when quoting a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCheckoutClosed is returned when mutating a checkout that is no longer started.
	ErrCheckoutClosed = errors.New("checkout is no longer open")
	// ErrInvalidShippingFee is returned for a negative shipping fee.
	ErrInvalidShippingFee = errors.New("shipping fee must not be negative")
	// ErrVariantUnavailable is returned when a cart line's variant is not sold.
	ErrVariantUnavailable = catalog.ErrVariantUnavailable
)

// Status is the checkout lifecycle state.
type Status string

const (
	StatusStarted   Status = "started"
	StatusAbandoned Status = "abandoned"
	StatusOrdered   Status = "ordered"
)

// Contact holds how the shopper can be reached about the order.
type Contact struct {
	Phone string `json:"phone" validate:"required,e164"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Recipient  string `json:"recipient" validate:"required,max=120"`
	Province   string `json:"province" validate:"required,max=60"`
	City       string `json:"city" validate:"required,max=60"`
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2,omitempty" validate:"max=255"`
	PostalCode string `json:"postalCode" validate:"required,numeric,len=10"`
	Note       string `json:"note,omitempty" validate:"max=500"`
}

// Warning is a non-fatal note attached to a quote, such as a coupon that
// could not be applied.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QuoteLine is a cart line priced at quote time.
type QuoteLine struct {
	VariantID    uuid.UUID     `json:"variantId"`
	ProductID    uuid.UUID     `json:"productId"`
	Qty          int           `json:"qty"`
	UnitPrice    pricing.Money `json:"unitPrice"`
	LineDiscount pricing.Money `json:"lineDiscount"`
	LineTotal    pricing.Money `json:"lineTotal"`
}

// Quote is the deterministic price breakdown of a cart at an instant.
type Quote struct {
	Currency         string        `json:"currency"`
	Lines            []QuoteLine   `json:"lines"`
	ItemsSubtotal    pricing.Money `json:"itemsSubtotal"`
	CouponDiscount   pricing.Money `json:"couponDiscount"`
	GlobalDiscount   pricing.Money `json:"globalDiscount"`
	ShippingFee      pricing.Money `json:"shippingFee"`
	Payable          pricing.Money `json:"payable"`
	CouponID         *uuid.UUID    `json:"couponId,omitempty"`
	CouponCode       string        `json:"couponCode,omitempty"`
	GlobalDiscountID *uuid.UUID    `json:"globalDiscountId,omitempty"`
	Warnings         []Warning     `json:"warnings,omitempty"`
	ComputedAt       time.Time     `json:"computedAt"`
}

// DiscountsTotal is the sum of coupon and global discounts.
func (q Quote) DiscountsTotal() pricing.Money {
	return pricing.New(q.CouponDiscount.Amount+q.GlobalDiscount.Amount, q.Currency)
}

// Digest fingerprints the priced content of the quote. Warnings and
// ComputedAt are left out so re-quoting an unchanged cart keeps the digest.
func (q Quote) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", q.Currency, len(q.Lines))
	for _, l := range q.Lines {
		fmt.Fprintf(h, "|%s:%d:%d:%d:%d", l.VariantID, l.Qty, l.UnitPrice.Amount, l.LineDiscount.Amount, l.LineTotal.Amount)
	}
	fmt.Fprintf(h, "|%d|%d|%d|%d|%d", q.ItemsSubtotal.Amount, q.CouponDiscount.Amount, q.GlobalDiscount.Amount, q.ShippingFee.Amount, q.Payable.Amount)
	if q.CouponID != nil {
		fmt.Fprintf(h, "|c:%s", *q.CouponID)
	}
	if q.GlobalDiscountID != nil {
		fmt.Fprintf(h, "|g:%s", *q.GlobalDiscountID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Checkout is the snapshot captured just before redirecting to payment.
type Checkout struct {
	ID              uuid.UUID  `json:"id"`
	CartID          uuid.UUID  `json:"cartId"`
	UserID          *uuid.UUID `json:"userId,omitempty"`
	Status          Status     `json:"status"`
	Contact         Contact    `json:"contact"`
	ShippingAddress Address    `json:"shippingAddress"`
	DeliveryOption  string     `json:"deliveryOption"`
	PaymentMethod   string     `json:"paymentMethod"`
	Quote           Quote      `json:"quote"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Store captures the persistence operations required by the checkout service.
type Store interface {
	// Checkout returns ErrNotFound when no checkout matches.
	Checkout(ctx context.Context, id uuid.UUID) (Checkout, error)
	CheckoutByCart(ctx context.Context, cartID uuid.UUID) (Checkout, error)
	// SaveCheckout inserts or replaces the checkout for its cart.
	SaveCheckout(ctx context.Context, c Checkout) (Checkout, error)
	// TransitionStatus moves the checkout from one status to another and
	// reports whether the row was in the expected status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)
}
