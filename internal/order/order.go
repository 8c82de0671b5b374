package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

var (
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyMaterialized is reported by stores when an order already
	// exists for the checkout being materialized.
	ErrAlreadyMaterialized = errors.New("checkout already materialized")
	// ErrOrderNumberCollision is reported by stores when the allocated order
	// number is taken. Materialization retries with a fresh number.
	ErrOrderNumberCollision = errors.New("order number collision")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrEmptyCheckout is returned when a checkout has no quoted lines.
	ErrEmptyCheckout = errors.New("checkout has no lines")
	// ErrQuoteChanged is returned when the checkout was re-quoted after the
	// payment being settled was opened.
	ErrQuoteChanged = errors.New("checkout quote changed since payment was opened")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:         {StatusAwaitingPayment, StatusPaid, StatusCancelled},
	StatusAwaitingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing:      {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:         {StatusDelivered, StatusRefunded},
	StatusDelivered:       {StatusRefunded},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingPayment, StatusPaid, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Attributes are the variant attributes frozen onto an order line.
type Attributes struct {
	WeightGrams int    `json:"weightGrams"`
	Grind       string `json:"grind"`
}

// Line is an immutable snapshot of a purchased variant.
type Line struct {
	ID           uuid.UUID     `json:"id"`
	OrderID      uuid.UUID     `json:"orderId"`
	VariantID    uuid.UUID     `json:"variantId"`
	ProductName  string        `json:"productName"`
	SKU          string        `json:"sku"`
	Attributes   Attributes    `json:"attributes"`
	Qty          int           `json:"qty"`
	UnitPrice    pricing.Money `json:"unitPrice"`
	LineDiscount pricing.Money `json:"lineDiscount"`
	LineTotal    pricing.Money `json:"lineTotal"`
}

// Redemption records a coupon consumed by an order.
type Redemption struct {
	ID              uuid.UUID     `json:"id"`
	CouponID        uuid.UUID     `json:"couponId"`
	OrderID         uuid.UUID     `json:"orderId"`
	UserID          *uuid.UUID    `json:"userId,omitempty"`
	DiscountApplied pricing.Money `json:"discountApplied"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Order is a materialized checkout. Its totals and lines are snapshots and
// never change after creation; only status, timestamps and refund amount move.
type Order struct {
	ID               uuid.UUID        `json:"id"`
	Number           int64            `json:"number"`
	CheckoutID       uuid.UUID        `json:"checkoutId"`
	UserID           *uuid.UUID       `json:"userId,omitempty"`
	Contact          checkout.Contact `json:"contact"`
	ShippingAddress  checkout.Address `json:"shippingAddress"`
	DeliveryOption   string           `json:"deliveryOption"`
	PaymentMethod    string           `json:"paymentMethod"`
	Status           Status           `json:"status"`
	Currency         string           `json:"currency"`
	ItemsSubtotal    pricing.Money    `json:"itemsSubtotal"`
	CouponDiscount   pricing.Money    `json:"couponDiscount"`
	GlobalDiscount   pricing.Money    `json:"globalDiscount"`
	ShippingFee      pricing.Money    `json:"shippingFee"`
	Tax              pricing.Money    `json:"tax"`
	GatewayFee       pricing.Money    `json:"gatewayFee"`
	Payable          pricing.Money    `json:"payable"`
	RefundAmount     pricing.Money    `json:"refundAmount"`
	CouponID         *uuid.UUID       `json:"couponId,omitempty"`
	CouponCode       string           `json:"couponCode,omitempty"`
	GlobalDiscountID *uuid.UUID       `json:"globalDiscountId,omitempty"`
	PaymentID        *uuid.UUID       `json:"paymentId,omitempty"`
	Lines            []Line           `json:"lines"`
	PlacedAt         time.Time        `json:"placedAt"`
	PaidAt           *time.Time       `json:"paidAt,omitempty"`
	ProcessingAt     *time.Time       `json:"processingAt,omitempty"`
	ShippedAt        *time.Time       `json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time       `json:"deliveredAt,omitempty"`
	CancelledAt      *time.Time       `json:"cancelledAt,omitempty"`
	RefundedAt       *time.Time       `json:"refundedAt,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// DiscountsTotal is the sum of coupon and global discounts.
func (o Order) DiscountsTotal() pricing.Money {
	return pricing.New(o.CouponDiscount.Amount+o.GlobalDiscount.Amount, o.Currency)
}

// Transition moves the order to status to and stamps the matching timestamp.
// A refund without a recorded amount refunds the full payable.
func (o *Order) Transition(to Status, at time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	ts := at
	switch to {
	case StatusPaid:
		o.PaidAt = &ts
	case StatusProcessing:
		o.ProcessingAt = &ts
	case StatusShipped:
		o.ShippedAt = &ts
	case StatusDelivered:
		o.DeliveredAt = &ts
	case StatusCancelled:
		o.CancelledAt = &ts
	case StatusRefunded:
		o.RefundedAt = &ts
		if o.RefundAmount.IsZero() {
			o.RefundAmount = o.Payable
		}
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// Store reads orders and persists status changes.
type Store interface {
	// Order returns ErrNotFound when no order matches.
	Order(ctx context.Context, id uuid.UUID) (Order, error)
	OrderByNumber(ctx context.Context, number int64) (Order, error)
	OrderByCheckout(ctx context.Context, checkoutID uuid.UUID) (Order, error)
	OrdersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, int, error)
	// UpdateStatus persists status, timestamps and refund amount when the
	// stored status still equals from.
	UpdateStatus(ctx context.Context, o Order, from Status) (bool, error)
}
