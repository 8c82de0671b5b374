package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// Store captures the persistence operations required by the promotion service.
type Store interface {
	// CouponByCode returns ErrCouponNotFound when no coupon matches. Codes
	// are passed normalised.
	CouponByCode(ctx context.Context, code string) (Coupon, error)
	GlobalDiscounts(ctx context.Context) ([]GlobalDiscount, error)
	CountRedemptionsByUser(ctx context.Context, couponID, userID uuid.UUID) (int, error)
}

// Service looks up promotions and enforces the usage caps the pure engine
// leaves to its caller.
type Service struct {
	Store Store
	Now   func() time.Time
}

// Lookup finds a coupon by code, ignoring case and surrounding whitespace.
func (s *Service) Lookup(ctx context.Context, code string) (Coupon, error) {
	if s == nil || s.Store == nil {
		return Coupon{}, errors.New("promotion service not configured")
	}
	normalised := NormaliseCode(code)
	if normalised == "" {
		return Coupon{}, ErrCouponNotFound
	}
	c, err := s.Store.CouponByCode(ctx, normalised)
	if err != nil {
		return Coupon{}, err
	}
	return c, nil
}

// ActiveGlobal returns the most recently created global discount live at now,
// or nil when none is.
func (s *Service) ActiveGlobal(ctx context.Context, now time.Time) (*GlobalDiscount, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("promotion service not configured")
	}
	all, err := s.Store.GlobalDiscounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global discounts: %w", err)
	}
	var best *GlobalDiscount
	for i := range all {
		g := all[i]
		if !g.LiveAt(now) {
			continue
		}
		if best == nil || g.CreatedAt.After(best.CreatedAt) {
			best = &g
		}
	}
	return best, nil
}

// CheckUsage verifies the total and per-user caps. A nil userID skips the
// per-user check.
func (s *Service) CheckUsage(ctx context.Context, c Coupon, userID *uuid.UUID) error {
	if c.MaxUsesTotal != nil && c.UsedCount >= *c.MaxUsesTotal {
		return ErrCouponUsageLimitReached
	}
	if c.MaxUsesPerUser == nil || userID == nil {
		return nil
	}
	if s == nil || s.Store == nil {
		return errors.New("promotion service not configured")
	}
	used, err := s.Store.CountRedemptionsByUser(ctx, c.ID, *userID)
	if err != nil {
		return fmt.Errorf("count redemptions: %w", err)
	}
	if used >= *c.MaxUsesPerUser {
		return ErrCouponPerUserLimitReached
	}
	return nil
}

// EvaluateInput describes a cart for a full promotion evaluation.
type EvaluateInput struct {
	Code     string
	UserID   *uuid.UUID
	Subtotal pricing.Money
	Items    []Item
	Now      time.Time
}

// Evaluation is the engine result plus the promotions it was computed from.
type Evaluation struct {
	Result
	Coupon *Coupon
	Global *GlobalDiscount
}

// Evaluate reads the coupon and global discount once, checks caps and scope,
// and applies the engine. Coupon problems are reported through
// Result.CouponRejection; only infrastructure failures return an error.
func (s *Service) Evaluate(ctx context.Context, in EvaluateInput) (Evaluation, error) {
	now := in.Now
	if now.IsZero() {
		now = s.now()
	}
	global, err := s.ActiveGlobal(ctx, now)
	if err != nil {
		return Evaluation{}, err
	}
	engineIn := Input{Subtotal: in.Subtotal, Global: global, Now: now}
	out := Evaluation{Global: global}

	var rejection error
	if NormaliseCode(in.Code) != "" {
		coupon, err := s.Lookup(ctx, in.Code)
		switch {
		case errors.Is(err, ErrCouponNotFound):
			rejection = ErrCouponNotFound
		case err != nil:
			return Evaluation{}, fmt.Errorf("lookup coupon: %w", err)
		default:
			if capErr := s.CheckUsage(ctx, coupon, in.UserID); capErr != nil {
				if !errors.Is(capErr, ErrCouponUsageLimitReached) && !errors.Is(capErr, ErrCouponPerUserLimitReached) {
					return Evaluation{}, capErr
				}
				rejection = capErr
			} else {
				out.Coupon = &coupon
				engineIn.Coupon = &coupon
				if coupon.Scoped() {
					eligible := EligibleSubtotal(in.Subtotal.Currency, in.Items, coupon)
					engineIn.Eligible = &eligible
				}
			}
		}
	}

	out.Result = Apply(engineIn)
	if rejection != nil {
		out.Result.CouponRejection = rejection
	}
	return out, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
