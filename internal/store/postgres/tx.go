package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/order"
)

const (
	constraintOrderCheckout = "orders_checkout_id_key"
	constraintOrderNumber   = "orders_number_key"
)

// WithinTx implements order.UnitOfWork with a read-committed transaction.
// The checkout row lock taken by LockCheckout serialises materialization.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockCheckout(ctx context.Context, id uuid.UUID) (checkout.Checkout, error) {
	co, err := scanCheckout(t.tx.QueryRow(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1 FOR UPDATE`, id))
	if notFound(err) {
		return checkout.Checkout{}, checkout.ErrNotFound
	}
	return co, err
}

func (t *pgTx) OrderByCheckout(ctx context.Context, checkoutID uuid.UUID) (order.Order, error) {
	return loadOrder(ctx, t.tx, `checkout_id = $1`, checkoutID)
}

func (t *pgTx) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n)
	return n, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o order.Order) error {
	contact, err := json.Marshal(o.Contact)
	if err != nil {
		return err
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
		o.ID, o.Number, o.CheckoutID, o.UserID, contact, address, o.DeliveryOption, o.PaymentMethod,
		string(o.Status), o.Currency, o.ItemsSubtotal.Amount, o.CouponDiscount.Amount, o.GlobalDiscount.Amount,
		o.ShippingFee.Amount, o.Tax.Amount, o.GatewayFee.Amount, o.Payable.Amount,
		o.RefundAmount.Amount, o.CouponID, o.CouponCode, o.GlobalDiscountID, o.PlacedAt, o.PaidAt, o.ProcessingAt, o.ShippedAt,
		o.DeliveredAt, o.CancelledAt, o.RefundedAt, o.UpdatedAt, o.PaymentID,
	)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case constraintOrderCheckout:
			return order.ErrAlreadyMaterialized
		case constraintOrderNumber:
			return order.ErrOrderNumberCollision
		}
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range o.Lines {
		batch.Queue(`
INSERT INTO order_lines (id, order_id, position, variant_id, product_name, sku, weight_grams, grind, qty, unit_price, line_discount, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			l.ID, o.ID, i, l.VariantID, l.ProductName, l.SKU, l.Attributes.WeightGrams, l.Attributes.Grind,
			l.Qty, l.UnitPrice.Amount, l.LineDiscount.Amount, l.LineTotal.Amount,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order lines: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRedemption(ctx context.Context, r order.Redemption) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
INSERT INTO coupon_redemptions (id, coupon_id, order_id, user_id, discount_applied, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (coupon_id, order_id) DO NOTHING`,
		r.ID, r.CouponID, r.OrderID, r.UserID, r.DiscountApplied.Amount, r.DiscountApplied.Currency, r.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) IncrementCouponUsage(ctx context.Context, couponID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, couponID)
	return err
}

func (t *pgTx) MarkCheckoutOrdered(ctx context.Context, checkoutID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE checkouts SET status = $2, updated_at = $3 WHERE id = $1`, checkoutID, string(checkout.StatusOrdered), at)
	return err
}
