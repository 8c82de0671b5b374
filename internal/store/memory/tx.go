package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/order"
)

// WithinTx implements order.UnitOfWork. Writes are staged and applied only
// when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s           *Store
	order       *order.Order
	redemptions []order.Redemption
	usage       []uuid.UUID
	ordered     map[uuid.UUID]time.Time
}

func (t *memTx) LockCheckout(ctx context.Context, id uuid.UUID) (checkout.Checkout, error) {
	return t.s.Checkout(ctx, id)
}

func (t *memTx) OrderByCheckout(ctx context.Context, checkoutID uuid.UUID) (order.Order, error) {
	if t.order != nil && t.order.CheckoutID == checkoutID {
		return cloneOrder(*t.order), nil
	}
	return t.s.OrderByCheckout(ctx, checkoutID)
}

func (t *memTx) NextOrderNumber(context.Context) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.NextNumber != nil {
		return t.s.NextNumber(), nil
	}
	t.s.orderSeq++
	return t.s.orderSeq, nil
}

func (t *memTx) InsertOrder(_ context.Context, o order.Order) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, existing := range t.s.orders {
		if existing.CheckoutID == o.CheckoutID {
			return order.ErrAlreadyMaterialized
		}
		if existing.Number == o.Number {
			return order.ErrOrderNumberCollision
		}
	}
	staged := cloneOrder(o)
	t.order = &staged
	return nil
}

func (t *memTx) InsertRedemption(_ context.Context, r order.Redemption) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, existing := range append(t.s.redemptions, t.redemptions...) {
		if existing.CouponID == r.CouponID && existing.OrderID == r.OrderID {
			return false, nil
		}
	}
	t.redemptions = append(t.redemptions, r)
	return true, nil
}

func (t *memTx) IncrementCouponUsage(_ context.Context, couponID uuid.UUID) error {
	t.usage = append(t.usage, couponID)
	return nil
}

func (t *memTx) MarkCheckoutOrdered(_ context.Context, checkoutID uuid.UUID, at time.Time) error {
	if t.ordered == nil {
		t.ordered = make(map[uuid.UUID]time.Time)
	}
	t.ordered[checkoutID] = at
	return nil
}

func (t *memTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.order != nil {
		s.orders[t.order.ID] = *t.order
	}
	s.redemptions = append(s.redemptions, t.redemptions...)
	for _, id := range t.usage {
		for code, c := range s.coupons {
			if c.ID == id {
				c.UsedCount++
				s.coupons[code] = c
			}
		}
	}
	for id, at := range t.ordered {
		if co, ok := s.checkouts[id]; ok {
			co.Status = checkout.StatusOrdered
			co.UpdatedAt = at
			s.checkouts[id] = co
		}
	}
}
