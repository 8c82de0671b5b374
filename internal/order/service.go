package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/roastery-checkout/internal/events"
)

// Service serves order reads and lifecycle changes.
type Service struct {
	Store  Store
	Events *events.Bus
	Logger *zerolog.Logger
	Now    func() time.Time
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.Store == nil {
		return Order{}, errors.New("order service not configured")
	}
	return s.Store.Order(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number int64) (Order, error) {
	if s == nil || s.Store == nil {
		return Order{}, errors.New("order service not configured")
	}
	return s.Store.OrderByNumber(ctx, number)
}

// ListForUser returns a page of the user's orders, newest first, and the total count.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, int, error) {
	if s == nil || s.Store == nil {
		return nil, 0, errors.New("order service not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.OrdersByUser(ctx, userID, limit, offset)
}

// UpdateStatus applies a lifecycle transition. A concurrent change between
// load and save surfaces as ErrInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (Order, error) {
	if s == nil || s.Store == nil {
		return Order{}, errors.New("order service not configured")
	}
	if !to.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	o, err := s.Store.Order(ctx, id)
	if err != nil {
		return Order{}, err
	}
	from := o.Status
	if err := o.Transition(to, s.now()); err != nil {
		return Order{}, err
	}
	ok, err := s.Store.UpdateStatus(ctx, o, from)
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}
	if !ok {
		return Order{}, fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderStatusChanged, o.ID, map[string]any{
			"orderId": o.ID,
			"number":  o.Number,
			"from":    from,
			"to":      to,
		}); err != nil && s.Logger != nil {
			s.Logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("emit status change")
		}
	}
	return o, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
