package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/checkout"
)

const checkoutColumns = `id, cart_id, user_id, status, contact, shipping_address, delivery_option, payment_method, quote, created_at, updated_at`

func scanCheckout(row rowScanner) (checkout.Checkout, error) {
	var (
		co                      checkout.Checkout
		status                  string
		contact, address, quote []byte
	)
	if err := row.Scan(&co.ID, &co.CartID, &co.UserID, &status, &contact, &address, &co.DeliveryOption, &co.PaymentMethod, &quote, &co.CreatedAt, &co.UpdatedAt); err != nil {
		return checkout.Checkout{}, err
	}
	co.Status = checkout.Status(status)
	if err := json.Unmarshal(contact, &co.Contact); err != nil {
		return checkout.Checkout{}, fmt.Errorf("decode checkout contact: %w", err)
	}
	if err := json.Unmarshal(address, &co.ShippingAddress); err != nil {
		return checkout.Checkout{}, fmt.Errorf("decode checkout address: %w", err)
	}
	if err := json.Unmarshal(quote, &co.Quote); err != nil {
		return checkout.Checkout{}, fmt.Errorf("decode checkout quote: %w", err)
	}
	return co, nil
}

// Checkout implements checkout.Store.
func (s *Store) Checkout(ctx context.Context, id uuid.UUID) (checkout.Checkout, error) {
	return s.oneCheckout(ctx, s.db, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1`, id)
}

// CheckoutByCart implements checkout.Store.
func (s *Store) CheckoutByCart(ctx context.Context, cartID uuid.UUID) (checkout.Checkout, error) {
	return s.oneCheckout(ctx, s.db, `SELECT `+checkoutColumns+` FROM checkouts WHERE cart_id = $1`, cartID)
}

func (s *Store) oneCheckout(ctx context.Context, db DBTX, query string, arg any) (checkout.Checkout, error) {
	co, err := scanCheckout(db.QueryRow(ctx, query, arg))
	if notFound(err) {
		return checkout.Checkout{}, checkout.ErrNotFound
	}
	return co, err
}

// SaveCheckout implements checkout.Store. The row is keyed by cart; an
// existing checkout for the cart keeps its id and creation time.
func (s *Store) SaveCheckout(ctx context.Context, co checkout.Checkout) (checkout.Checkout, error) {
	contact, err := json.Marshal(co.Contact)
	if err != nil {
		return checkout.Checkout{}, err
	}
	address, err := json.Marshal(co.ShippingAddress)
	if err != nil {
		return checkout.Checkout{}, err
	}
	quote, err := json.Marshal(co.Quote)
	if err != nil {
		return checkout.Checkout{}, err
	}
	err = s.db.QueryRow(ctx, `
INSERT INTO checkouts (id, cart_id, user_id, status, contact, shipping_address, delivery_option, payment_method, quote, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (cart_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    status = EXCLUDED.status,
    contact = EXCLUDED.contact,
    shipping_address = EXCLUDED.shipping_address,
    delivery_option = EXCLUDED.delivery_option,
    payment_method = EXCLUDED.payment_method,
    quote = EXCLUDED.quote,
    updated_at = EXCLUDED.updated_at
RETURNING id, created_at`,
		co.ID, co.CartID, co.UserID, string(co.Status), contact, address, co.DeliveryOption, co.PaymentMethod, quote, co.CreatedAt, co.UpdatedAt,
	).Scan(&co.ID, &co.CreatedAt)
	if err != nil {
		return checkout.Checkout{}, err
	}
	return co, nil
}

// TransitionStatus implements checkout.Store.
func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to checkout.Status, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE checkouts SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`, id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkouts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, checkout.ErrNotFound
	}
	return false, nil
}
