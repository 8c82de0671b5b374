package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

const cartColumns = `id, user_id, anonymous_id, currency, coupon_code, created_at, updated_at`

// CreateCart implements cart.Store.
func (s *Store) CreateCart(ctx context.Context, c cart.Cart) (cart.Cart, error) {
	_, err := s.db.Exec(ctx, `
INSERT INTO carts (id, user_id, anonymous_id, currency, coupon_code, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.AnonymousID, c.Currency, c.CouponCode, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return cart.Cart{}, err
	}
	if c.Lines == nil {
		c.Lines = []cart.Line{}
	}
	return c, nil
}

// Cart implements cart.Store.
func (s *Store) Cart(ctx context.Context, id uuid.UUID) (cart.Cart, error) {
	return s.loadCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
}

// CartByUser implements cart.Store and returns the most recently touched cart.
func (s *Store) CartByUser(ctx context.Context, userID uuid.UUID) (cart.Cart, error) {
	return s.loadCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`, userID)
}

// CartByAnonymousID implements cart.Store.
func (s *Store) CartByAnonymousID(ctx context.Context, anonID uuid.UUID) (cart.Cart, error) {
	return s.loadCart(ctx, `SELECT `+cartColumns+` FROM carts WHERE anonymous_id = $1 ORDER BY updated_at DESC LIMIT 1`, anonID)
}

func (s *Store) loadCart(ctx context.Context, query string, arg any) (cart.Cart, error) {
	var c cart.Cart
	err := s.db.QueryRow(ctx, query, arg).Scan(&c.ID, &c.UserID, &c.AnonymousID, &c.Currency, &c.CouponCode, &c.CreatedAt, &c.UpdatedAt)
	if notFound(err) {
		return cart.Cart{}, cart.ErrNotFound
	}
	if err != nil {
		return cart.Cart{}, err
	}
	rows, err := s.db.Query(ctx, `
SELECT id, variant_id, qty, unit_price_snapshot, line_discount, added_at
FROM cart_lines WHERE cart_id = $1 ORDER BY added_at, id`, c.ID)
	if err != nil {
		return cart.Cart{}, err
	}
	defer rows.Close()
	c.Lines = []cart.Line{}
	for rows.Next() {
		var (
			l                  cart.Line
			snapshot, discount int64
		)
		if err := rows.Scan(&l.ID, &l.VariantID, &l.Qty, &snapshot, &discount, &l.AddedAt); err != nil {
			return cart.Cart{}, err
		}
		l.UnitPriceSnapshot = pricing.New(snapshot, c.Currency)
		l.LineDiscount = pricing.New(discount, c.Currency)
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

// UpsertLine implements cart.Store.
func (s *Store) UpsertLine(ctx context.Context, cartID uuid.UUID, l cart.Line) (cart.Line, error) {
	err := s.inTx(ctx, func(db DBTX) error {
		if _, err := touchCart(ctx, db, cartID); err != nil {
			return err
		}
		var err error
		l, err = upsertLine(ctx, db, cartID, l)
		return err
	})
	if err != nil {
		return cart.Line{}, err
	}
	return l, nil
}

// MergeLine implements cart.Store. The cart row stays locked from the read of
// the current line until the merged line is written.
func (s *Store) MergeLine(ctx context.Context, cartID, variantID uuid.UUID, merge func(existing cart.Line, exists bool) (cart.Line, error)) (cart.Line, error) {
	var out cart.Line
	err := s.inTx(ctx, func(db DBTX) error {
		currency, err := touchCart(ctx, db, cartID)
		if err != nil {
			return err
		}
		var (
			existing           cart.Line
			snapshot, discount int64
		)
		err = db.QueryRow(ctx, `
SELECT id, qty, unit_price_snapshot, line_discount, added_at
FROM cart_lines WHERE cart_id = $1 AND variant_id = $2`, cartID, variantID).Scan(
			&existing.ID, &existing.Qty, &snapshot, &discount, &existing.AddedAt,
		)
		exists := err == nil
		if err != nil && !notFound(err) {
			return err
		}
		if exists {
			existing.VariantID = variantID
			existing.UnitPriceSnapshot = pricing.New(snapshot, currency)
			existing.LineDiscount = pricing.New(discount, currency)
		}
		l, err := merge(existing, exists)
		if err != nil {
			return err
		}
		l.VariantID = variantID
		out, err = upsertLine(ctx, db, cartID, l)
		return err
	})
	if err != nil {
		return cart.Line{}, err
	}
	return out, nil
}

// touchCart bumps updated_at, which also row-locks the cart for the rest of
// the transaction.
func touchCart(ctx context.Context, db DBTX, cartID uuid.UUID) (string, error) {
	var currency string
	err := db.QueryRow(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1 RETURNING currency`, cartID).Scan(&currency)
	if notFound(err) {
		return "", cart.ErrNotFound
	}
	return currency, err
}

func upsertLine(ctx context.Context, db DBTX, cartID uuid.UUID, l cart.Line) (cart.Line, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := db.QueryRow(ctx, `
INSERT INTO cart_lines (id, cart_id, variant_id, qty, unit_price_snapshot, line_discount, added_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
ON CONFLICT (cart_id, variant_id) DO UPDATE SET
    qty = EXCLUDED.qty,
    unit_price_snapshot = EXCLUDED.unit_price_snapshot,
    line_discount = EXCLUDED.line_discount
RETURNING id, added_at`,
		l.ID, cartID, l.VariantID, l.Qty, l.UnitPriceSnapshot.Amount, l.LineDiscount.Amount, nullTime(l.AddedAt),
	).Scan(&l.ID, &l.AddedAt)
	return l, err
}

// DeleteLine implements cart.Store.
func (s *Store) DeleteLine(ctx context.Context, cartID, variantID uuid.UUID) error {
	return s.inTx(ctx, func(db DBTX) error {
		tag, err := db.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrNotFound
		}
		_, err = db.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1 AND variant_id = $2`, cartID, variantID)
		return err
	})
}

// SetCoupon implements cart.Store.
func (s *Store) SetCoupon(ctx context.Context, cartID uuid.UUID, code string) error {
	tag, err := s.db.Exec(ctx, `UPDATE carts SET coupon_code = $2, updated_at = now() WHERE id = $1`, cartID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}
