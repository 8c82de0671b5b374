package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

const orderColumns = `id, number, checkout_id, user_id, contact, shipping_address, delivery_option, payment_method,
status, currency, items_subtotal, coupon_discount, global_discount, shipping_fee, tax, gateway_fee, payable,
refund_amount, coupon_id, coupon_code, global_discount_id, placed_at, paid_at, processing_at, shipped_at,
delivered_at, cancelled_at, refunded_at, updated_at, payment_id`

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		o                                                     order.Order
		status                                                string
		contact, address                                      []byte
		subtotal, coupon, global, shipping, tax, fee, payable int64
		refund                                                int64
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CheckoutID, &o.UserID, &contact, &address, &o.DeliveryOption, &o.PaymentMethod,
		&status, &o.Currency, &subtotal, &coupon, &global, &shipping, &tax, &fee, &payable,
		&refund, &o.CouponID, &o.CouponCode, &o.GlobalDiscountID, &o.PlacedAt, &o.PaidAt, &o.ProcessingAt, &o.ShippedAt,
		&o.DeliveredAt, &o.CancelledAt, &o.RefundedAt, &o.UpdatedAt, &o.PaymentID,
	)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = order.Status(status)
	money := func(v int64) pricing.Money { return pricing.New(v, o.Currency) }
	o.ItemsSubtotal = money(subtotal)
	o.CouponDiscount = money(coupon)
	o.GlobalDiscount = money(global)
	o.ShippingFee = money(shipping)
	o.Tax = money(tax)
	o.GatewayFee = money(fee)
	o.Payable = money(payable)
	o.RefundAmount = money(refund)
	if err := json.Unmarshal(contact, &o.Contact); err != nil {
		return order.Order{}, fmt.Errorf("decode order contact: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return order.Order{}, fmt.Errorf("decode order address: %w", err)
	}
	return o, nil
}

func loadOrder(ctx context.Context, db DBTX, where string, arg any) (order.Order, error) {
	o, err := scanOrder(db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if notFound(err) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, err
	}
	if o.Lines, err = loadOrderLines(ctx, db, o.ID, o.Currency); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func loadOrderLines(ctx context.Context, db DBTX, orderID uuid.UUID, currency string) ([]order.Line, error) {
	rows, err := db.Query(ctx, `
SELECT id, variant_id, product_name, sku, weight_grams, grind, qty, unit_price, line_discount, line_total
FROM order_lines WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []order.Line{}
	for rows.Next() {
		var (
			l                     order.Line
			unit, discount, total int64
		)
		if err := rows.Scan(&l.ID, &l.VariantID, &l.ProductName, &l.SKU, &l.Attributes.WeightGrams, &l.Attributes.Grind, &l.Qty, &unit, &discount, &total); err != nil {
			return nil, err
		}
		l.OrderID = orderID
		l.UnitPrice = pricing.New(unit, currency)
		l.LineDiscount = pricing.New(discount, currency)
		l.LineTotal = pricing.New(total, currency)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Order implements order.Store.
func (s *Store) Order(ctx context.Context, id uuid.UUID) (order.Order, error) {
	return loadOrder(ctx, s.db, `id = $1`, id)
}

// OrderByNumber implements order.Store.
func (s *Store) OrderByNumber(ctx context.Context, number int64) (order.Order, error) {
	return loadOrder(ctx, s.db, `number = $1`, number)
}

// OrderByCheckout implements order.Store.
func (s *Store) OrderByCheckout(ctx context.Context, checkoutID uuid.UUID) (order.Order, error) {
	return loadOrder(ctx, s.db, `checkout_id = $1`, checkoutID)
}

// OrdersByUser implements order.Store. Orders are returned newest first.
func (s *Store) OrdersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]order.Order, int, error) {
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY number DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].Lines, err = loadOrderLines(ctx, s.db, out[i].ID, out[i].Currency); err != nil {
			return nil, 0, err
		}
	}
	if out == nil {
		out = []order.Order{}
	}
	return out, total, nil
}

// UpdateStatus implements order.Store.
func (s *Store) UpdateStatus(ctx context.Context, o order.Order, from order.Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE orders SET
    status = $3,
    paid_at = $4,
    processing_at = $5,
    shipped_at = $6,
    delivered_at = $7,
    cancelled_at = $8,
    refunded_at = $9,
    refund_amount = $10,
    updated_at = $11
WHERE id = $1 AND status = $2`,
		o.ID, string(from), string(o.Status), o.PaidAt, o.ProcessingAt, o.ShippedAt, o.DeliveredAt,
		o.CancelledAt, o.RefundedAt, o.RefundAmount.Amount, o.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
