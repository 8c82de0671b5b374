// Package memory provides in-process implementations of every store the
// checkout service needs. It backs tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/payment"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
	"github.com/noah-isme/roastery-checkout/internal/seed"
)

const firstOrderNumber = 1001

// Store is a mutex-guarded in-memory database.
type Store struct {
	mu sync.RWMutex
	// txMu serialises units of work, standing in for row locks.
	txMu sync.Mutex

	variants    map[uuid.UUID]catalog.Variant
	windows     map[uuid.UUID][]catalog.PriceWindow
	windowSeq   int64
	coupons     map[string]promotion.Coupon
	globals     []promotion.GlobalDiscount
	carts       map[uuid.UUID]cart.Cart
	checkouts   map[uuid.UUID]checkout.Checkout
	orders      map[uuid.UUID]order.Order
	redemptions []order.Redemption
	payments    map[uuid.UUID]payment.Payment
	events      []events.Event
	orderSeq    int64

	// NextNumber overrides order number allocation when set.
	NextNumber func() int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		variants:  make(map[uuid.UUID]catalog.Variant),
		windows:   make(map[uuid.UUID][]catalog.PriceWindow),
		coupons:   make(map[string]promotion.Coupon),
		carts:     make(map[uuid.UUID]cart.Cart),
		checkouts: make(map[uuid.UUID]checkout.Checkout),
		orders:    make(map[uuid.UUID]order.Order),
		payments:  make(map[uuid.UUID]payment.Payment),
		orderSeq:  firstOrderNumber - 1,
	}
}

// PutVariant inserts or replaces a variant.
func (s *Store) PutVariant(v catalog.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

// AddPriceWindow appends a price window, assigning Seq and CreatedAt when unset.
func (s *Store) AddPriceWindow(w catalog.PriceWindow) catalog.PriceWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowSeq++
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Seq == 0 {
		w.Seq = s.windowSeq
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	s.windows[w.VariantID] = append(s.windows[w.VariantID], w)
	return w
}

// PutCoupon inserts or replaces a coupon keyed by its normalised code.
func (s *Store) PutCoupon(c promotion.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = promotion.NormaliseCode(c.Code)
	s.coupons[c.Code] = c
}

// AddGlobalDiscount appends a global discount.
func (s *Store) AddGlobalDiscount(g promotion.GlobalDiscount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = append(s.globals, g)
}

// Variant implements catalog.VariantStore.
func (s *Store) Variant(_ context.Context, id uuid.UUID) (catalog.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return v, nil
}

// Variants implements catalog.VariantStore. Unknown ids are omitted.
func (s *Store) Variants(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]catalog.Variant, len(ids))
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// PriceWindows implements catalog.PriceStore.
func (s *Store) PriceWindows(_ context.Context, variantID uuid.UUID) ([]catalog.PriceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.PriceWindow(nil), s.windows[variantID]...), nil
}

// CouponByCode implements promotion.Store.
func (s *Store) CouponByCode(_ context.Context, code string) (promotion.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[code]
	if !ok {
		return promotion.Coupon{}, promotion.ErrCouponNotFound
	}
	return c, nil
}

// GlobalDiscounts implements promotion.Store.
func (s *Store) GlobalDiscounts(context.Context) ([]promotion.GlobalDiscount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]promotion.GlobalDiscount(nil), s.globals...), nil
}

// CountRedemptionsByUser implements promotion.Store.
func (s *Store) CountRedemptionsByUser(_ context.Context, couponID, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.redemptions {
		if r.CouponID == couponID && r.UserID != nil && *r.UserID == userID {
			n++
		}
	}
	return n, nil
}

// Redemptions returns all recorded coupon redemptions.
func (s *Store) Redemptions() []order.Redemption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]order.Redemption(nil), s.redemptions...)
}

// CreateCart implements cart.Store.
func (s *Store) CreateCart(_ context.Context, c cart.Cart) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Lines == nil {
		c.Lines = []cart.Line{}
	}
	s.carts[c.ID] = cloneCart(c)
	return cloneCart(c), nil
}

// Cart implements cart.Store and checkout.CartReader.
func (s *Store) Cart(_ context.Context, id uuid.UUID) (cart.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[id]
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	return cloneCart(c), nil
}

// CartByUser implements cart.Store.
func (s *Store) CartByUser(_ context.Context, userID uuid.UUID) (cart.Cart, error) {
	return s.findCart(func(c cart.Cart) bool { return c.UserID != nil && *c.UserID == userID })
}

// CartByAnonymousID implements cart.Store.
func (s *Store) CartByAnonymousID(_ context.Context, anonID uuid.UUID) (cart.Cart, error) {
	return s.findCart(func(c cart.Cart) bool { return c.AnonymousID != nil && *c.AnonymousID == anonID })
}

func (s *Store) findCart(match func(cart.Cart) bool) (cart.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *cart.Cart
	for _, c := range s.carts {
		if !match(c) {
			continue
		}
		if found == nil || c.UpdatedAt.After(found.UpdatedAt) {
			cc := c
			found = &cc
		}
	}
	if found == nil {
		return cart.Cart{}, cart.ErrNotFound
	}
	return cloneCart(*found), nil
}

// UpsertLine implements cart.Store.
func (s *Store) UpsertLine(_ context.Context, cartID uuid.UUID, l cart.Line) (cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLine(cartID, l)
}

// MergeLine implements cart.Store. merge runs under the store lock and must
// not call back into the store.
func (s *Store) MergeLine(_ context.Context, cartID, variantID uuid.UUID, merge func(existing cart.Line, exists bool) (cart.Line, error)) (cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return cart.Line{}, cart.ErrNotFound
	}
	existing, exists := c.Line(variantID)
	l, err := merge(existing, exists)
	if err != nil {
		return cart.Line{}, err
	}
	l.VariantID = variantID
	return s.upsertLine(cartID, l)
}

func (s *Store) upsertLine(cartID uuid.UUID, l cart.Line) (cart.Line, error) {
	c, ok := s.carts[cartID]
	if !ok {
		return cart.Line{}, cart.ErrNotFound
	}
	replaced := false
	for i, existing := range c.Lines {
		if existing.VariantID == l.VariantID {
			l.ID = existing.ID
			l.AddedAt = existing.AddedAt
			c.Lines[i] = l
			replaced = true
			break
		}
	}
	if !replaced {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		c.Lines = append(c.Lines, l)
	}
	c.UpdatedAt = time.Now().UTC()
	s.carts[cartID] = c
	return l, nil
}

// DeleteLine implements cart.Store.
func (s *Store) DeleteLine(_ context.Context, cartID, variantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return cart.ErrNotFound
	}
	lines := c.Lines[:0]
	for _, l := range c.Lines {
		if l.VariantID != variantID {
			lines = append(lines, l)
		}
	}
	c.Lines = lines
	c.UpdatedAt = time.Now().UTC()
	s.carts[cartID] = c
	return nil
}

// SetCoupon implements cart.Store.
func (s *Store) SetCoupon(_ context.Context, cartID uuid.UUID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[cartID]
	if !ok {
		return cart.ErrNotFound
	}
	c.CouponCode = code
	c.UpdatedAt = time.Now().UTC()
	s.carts[cartID] = c
	return nil
}

func cloneCart(c cart.Cart) cart.Cart {
	c.Lines = append([]cart.Line(nil), c.Lines...)
	return c
}

// Checkout implements checkout.Store.
func (s *Store) Checkout(_ context.Context, id uuid.UUID) (checkout.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	co, ok := s.checkouts[id]
	if !ok {
		return checkout.Checkout{}, checkout.ErrNotFound
	}
	return co, nil
}

// CheckoutByCart implements checkout.Store.
func (s *Store) CheckoutByCart(_ context.Context, cartID uuid.UUID) (checkout.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, co := range s.checkouts {
		if co.CartID == cartID {
			return co, nil
		}
	}
	return checkout.Checkout{}, checkout.ErrNotFound
}

// SaveCheckout implements checkout.Store.
func (s *Store) SaveCheckout(_ context.Context, co checkout.Checkout) (checkout.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.checkouts {
		if existing.CartID == co.CartID && id != co.ID {
			delete(s.checkouts, id)
		}
	}
	s.checkouts[co.ID] = co
	return co, nil
}

// TransitionStatus implements checkout.Store.
func (s *Store) TransitionStatus(_ context.Context, id uuid.UUID, from, to checkout.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	co, ok := s.checkouts[id]
	if !ok {
		return false, checkout.ErrNotFound
	}
	if co.Status != from {
		return false, nil
	}
	co.Status = to
	co.UpdatedAt = at
	s.checkouts[id] = co
	return true, nil
}

// InsertEvent implements events.Store.
func (s *Store) InsertEvent(_ context.Context, ev events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return ev, nil
}

// Events returns the recorded events, optionally filtered by topic.
func (s *Store) Events(topic string) []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []events.Event
	for _, ev := range s.events {
		if topic == "" || ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

// Order implements order.Store.
func (s *Store) Order(_ context.Context, id uuid.UUID) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// OrderByNumber implements order.Store.
func (s *Store) OrderByNumber(_ context.Context, number int64) (order.Order, error) {
	return s.findOrder(func(o order.Order) bool { return o.Number == number })
}

// OrderByCheckout implements order.Store.
func (s *Store) OrderByCheckout(_ context.Context, checkoutID uuid.UUID) (order.Order, error) {
	return s.findOrder(func(o order.Order) bool { return o.CheckoutID == checkoutID })
}

func (s *Store) findOrder(match func(order.Order) bool) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if match(o) {
			return cloneOrder(o), nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

// OrdersByUser implements order.Store.
func (s *Store) OrdersByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]order.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []order.Order
	for _, o := range s.orders {
		if o.UserID != nil && *o.UserID == userID {
			all = append(all, cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Number > all[j].Number })
	total := len(all)
	if offset >= total {
		return []order.Order{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// UpdateStatus implements order.Store.
func (s *Store) UpdateStatus(_ context.Context, o order.Order, from order.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[o.ID]
	if !ok {
		return false, order.ErrNotFound
	}
	if current.Status != from {
		return false, nil
	}
	current.Status = o.Status
	current.PaidAt = o.PaidAt
	current.ProcessingAt = o.ProcessingAt
	current.ShippedAt = o.ShippedAt
	current.DeliveredAt = o.DeliveredAt
	current.CancelledAt = o.CancelledAt
	current.RefundedAt = o.RefundedAt
	current.RefundAmount = o.RefundAmount
	current.UpdatedAt = o.UpdatedAt
	s.orders[o.ID] = current
	return true, nil
}

func cloneOrder(o order.Order) order.Order {
	o.Lines = append([]order.Line(nil), o.Lines...)
	return o
}

// CreatePayment implements payment.Store.
func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
	return p, nil
}

// PaymentByAuthority implements payment.Store.
func (s *Store) PaymentByAuthority(_ context.Context, gateway, authority string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.Gateway == gateway && p.Authority == authority {
			return p, nil
		}
	}
	return payment.Payment{}, payment.ErrPaymentNotFound
}

// UpdatePayment implements payment.Store.
func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return payment.ErrPaymentNotFound
	}
	s.payments[p.ID] = p
	return nil
}

// CouponUsedCount returns the stored usage counter for a coupon code.
func (s *Store) CouponUsedCount(code string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coupons[promotion.NormaliseCode(code)].UsedCount
}

// Load inserts every row of a seed catalog.
func (s *Store) Load(c seed.Catalog) {
	for _, v := range c.Variants {
		s.PutVariant(v)
	}
	for _, w := range c.PriceWindows {
		s.AddPriceWindow(w)
	}
	for _, cp := range c.Coupons {
		s.PutCoupon(cp)
	}
	for _, g := range c.GlobalDiscounts {
		s.AddGlobalDiscount(g)
	}
}
