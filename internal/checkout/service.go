package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/obs"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// DefaultPaymentMethod is used when the shopper does not pick one.
const DefaultPaymentMethod = "zarrinpal"

// CartReader loads carts.
type CartReader interface {
	Cart(ctx context.Context, id uuid.UUID) (cart.Cart, error)
}

// ExpiryScheduler arranges for a started checkout to be abandoned after a delay.
type ExpiryScheduler interface {
	ScheduleCheckoutExpiry(ctx context.Context, checkoutID uuid.UUID, after time.Duration) error
}

// StartInput is the shopper-supplied part of a checkout.
type StartInput struct {
	Contact         Contact `json:"contact" validate:"required"`
	ShippingAddress Address `json:"shippingAddress" validate:"required"`
	DeliveryOption  string  `json:"deliveryOption" validate:"required,max=40"`
	PaymentMethod   string  `json:"paymentMethod" validate:"omitempty,max=40"`
}

// Service manages the checkout lifecycle.
type Service struct {
	Store              Store
	Carts              CartReader
	Pricer             *Pricer
	Validate           *validator.Validate
	Expiry             ExpiryScheduler
	TTL                time.Duration
	DefaultShippingFee int64
	Events             *events.Bus
	Logger             *zerolog.Logger
	Now                func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

// QuoteCart prices a cart without creating a checkout.
func (s *Service) QuoteCart(ctx context.Context, cartID uuid.UUID, shippingFee *int64) (Quote, error) {
	if s == nil || s.Carts == nil || s.Pricer == nil {
		return Quote{}, errors.New("checkout service not configured")
	}
	c, err := s.Carts.Cart(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}
	return s.Pricer.Quote(ctx, c, s.shippingFee(c.Currency, shippingFee), s.now())
}

func (s *Service) shippingFee(currency string, override *int64) pricing.Money {
	if override != nil {
		return pricing.New(*override, currency)
	}
	return pricing.New(s.DefaultShippingFee, currency)
}

// Start creates the checkout for a cart, or recomputes it while it is still
// started. The quote is always recomputed from current prices.
func (s *Service) Start(ctx context.Context, cartID uuid.UUID, in StartInput, shippingFee *int64) (Checkout, error) {
	if s == nil || s.Store == nil || s.Carts == nil || s.Pricer == nil {
		return Checkout{}, errors.New("checkout service not configured")
	}
	in.DeliveryOption = strings.TrimSpace(in.DeliveryOption)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	if in.PaymentMethod == "" {
		in.PaymentMethod = DefaultPaymentMethod
	}
	if s.Validate != nil {
		if err := s.Validate.StructCtx(ctx, in); err != nil {
			return Checkout{}, newValidationError(err)
		}
	}

	c, err := s.Carts.Cart(ctx, cartID)
	if err != nil {
		return Checkout{}, err
	}
	existing, err := s.Store.CheckoutByCart(ctx, cartID)
	created := false
	switch {
	case errors.Is(err, ErrNotFound):
		created = true
		existing = Checkout{ID: uuid.New(), CartID: cartID, Status: StatusStarted, CreatedAt: s.now()}
	case err != nil:
		return Checkout{}, err
	case existing.Status != StatusStarted:
		return Checkout{}, fmt.Errorf("%w: status %s", ErrCheckoutClosed, existing.Status)
	}

	now := s.now()
	quote, err := s.Pricer.Quote(ctx, c, s.shippingFee(c.Currency, shippingFee), now)
	if err != nil {
		return Checkout{}, err
	}
	existing.UserID = c.UserID
	existing.Contact = in.Contact
	existing.ShippingAddress = in.ShippingAddress
	existing.DeliveryOption = in.DeliveryOption
	existing.PaymentMethod = in.PaymentMethod
	existing.Quote = quote
	existing.UpdatedAt = now

	saved, err := s.Store.SaveCheckout(ctx, existing)
	if err != nil {
		return Checkout{}, fmt.Errorf("save checkout: %w", err)
	}
	if created {
		obs.Inc(obs.CheckoutTransitionTotal, string(StatusStarted))
		if s.Expiry != nil && s.TTL > 0 {
			if err := s.Expiry.ScheduleCheckoutExpiry(ctx, saved.ID, s.TTL); err != nil {
				s.logger(ctx).Warn().Err(err).Str("checkout_id", saved.ID.String()).Msg("schedule checkout expiry")
			}
		}
		s.emit(ctx, events.TopicCheckoutStarted, saved.ID, map[string]any{
			"checkoutId": saved.ID,
			"cartId":     saved.CartID,
			"payable":    saved.Quote.Payable.Amount,
		})
	}
	return saved, nil
}

// Get loads a checkout.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Checkout, error) {
	if s == nil || s.Store == nil {
		return Checkout{}, errors.New("checkout service not configured")
	}
	return s.Store.Checkout(ctx, id)
}

// Abandon moves a started checkout to abandoned. Checkouts that were already
// abandoned are left alone; ordered checkouts return ErrCheckoutClosed.
func (s *Service) Abandon(ctx context.Context, id uuid.UUID) (Checkout, error) {
	if s == nil || s.Store == nil {
		return Checkout{}, errors.New("checkout service not configured")
	}
	ok, err := s.Store.TransitionStatus(ctx, id, StatusStarted, StatusAbandoned, s.now())
	if err != nil {
		return Checkout{}, err
	}
	co, err := s.Store.Checkout(ctx, id)
	if err != nil {
		return Checkout{}, err
	}
	if !ok {
		if co.Status == StatusAbandoned {
			return co, nil
		}
		return Checkout{}, fmt.Errorf("%w: status %s", ErrCheckoutClosed, co.Status)
	}
	obs.Inc(obs.CheckoutTransitionTotal, string(StatusAbandoned))
	s.emit(ctx, events.TopicCheckoutAbandoned, co.ID, map[string]any{"checkoutId": co.ID, "cartId": co.CartID})
	return co, nil
}

// Expire abandons a checkout if it is still started. It is the handler for
// the delayed expiry task and never fails on checkouts that moved on.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) error {
	_, err := s.Abandon(ctx, id)
	if errors.Is(err, ErrCheckoutClosed) || errors.Is(err, ErrNotFound) {
		s.logger(ctx).Debug().Str("checkout_id", id.String()).Msg("checkout expiry skipped")
		return nil
	}
	return err
}

func (s *Service) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, id, payload); err != nil {
		s.logger(ctx).Warn().Err(err).Str("topic", topic).Msg("emit checkout event")
	}
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+" "+v)
	}
	return "invalid checkout input: " + strings.Join(parts, ", ")
}

func newValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Namespace()] = fe.Tag()
	}
	return out
}
