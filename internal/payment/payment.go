package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

var (
	// ErrNotAuthorized is returned when the gateway did not authorize the payment.
	ErrNotAuthorized = errors.New("payment not authorized")
	// ErrPaymentNotFound is returned when no payment matches an authority.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrGatewayNotSupported is returned for an unknown gateway name.
	ErrGatewayNotSupported = errors.New("payment gateway not supported")
	// ErrInvalidCallback is returned when callback parameters are missing or forged.
	ErrInvalidCallback = errors.New("invalid payment callback")
	// ErrAmountMismatch is returned when the gateway reports a different amount.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrNothingToPay is returned for a checkout whose payable is zero.
	ErrNothingToPay = errors.New("checkout has nothing to pay")
	// ErrRefundRequired is returned when money was captured but no order can
	// be created for it. The payment is left refund_pending.
	ErrRefundRequired = errors.New("payment captured without an order, refund required")
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusFailed     Status = "failed"
	// StatusRefundPending marks a captured payment that must be returned to
	// the shopper because its checkout was re-quoted or already paid.
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

// Succeeded reports whether the status allows the order to be materialized.
func (s Status) Succeeded() bool {
	return s == StatusAuthorized || s == StatusCaptured
}

// Payment is one attempt to pay a checkout through a gateway.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	CheckoutID    uuid.UUID       `json:"checkoutId"`
	OrderID       *uuid.UUID      `json:"orderId,omitempty"`
	Gateway       string          `json:"gateway"`
	Status        Status          `json:"status"`
	Amount        pricing.Money   `json:"amount"`
	GatewayFee    pricing.Money   `json:"gatewayFee"`
	Authority     string          `json:"authority"`
	RefID         string          `json:"refId,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	QuoteDigest   string          `json:"-"`
	RawResponse   json.RawMessage `json:"-"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Request is what a gateway needs to open a payment.
type Request struct {
	CheckoutID  uuid.UUID
	Amount      pricing.Money
	CallbackURL string
	Description string
	Mobile      string
	Email       string
}

// Redirect is where the shopper is sent to pay.
type Redirect struct {
	Authority string `json:"authority"`
	URL       string `json:"redirectUrl"`
}

// Verification is the gateway's verdict on a payment.
type Verification struct {
	Status  Status
	RefID   string
	CardPAN string
	Fee     pricing.Money
	Raw     json.RawMessage
	Reason  string
}

// Callback is the normalised data a gateway sends back with the shopper.
type Callback struct {
	Authority string
	// OK is the shopper-side outcome reported by the gateway. It is not
	// trusted on its own; successful callbacks are always verified.
	OK bool
}

// Gateway abstracts a payment provider.
type Gateway interface {
	Name() string
	Request(ctx context.Context, req Request) (Redirect, error)
	Verify(ctx context.Context, authority string, amount pricing.Money) (Verification, error)
	ParseCallback(params url.Values) (Callback, error)
}

// Store persists payments.
type Store interface {
	CreatePayment(ctx context.Context, p Payment) (Payment, error)
	// PaymentByAuthority returns ErrPaymentNotFound when no payment matches.
	PaymentByAuthority(ctx context.Context, gateway, authority string) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
}
