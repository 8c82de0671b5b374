package postgres

import (
	"context"
	"fmt"

	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/payment"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

// CreatePayment implements payment.Store.
func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	_, err := s.db.Exec(ctx, `
INSERT INTO payments (id, checkout_id, order_id, gateway, status, amount, currency, gateway_fee, authority, ref_id, failure_reason, raw_response, created_at, updated_at, quote_digest)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.CheckoutID, p.OrderID, p.Gateway, string(p.Status), p.Amount.Amount, p.Amount.Currency, p.GatewayFee.Amount,
		p.Authority, p.RefID, p.FailureReason, nullJSON(p.RawResponse), p.CreatedAt, p.UpdatedAt, p.QuoteDigest,
	)
	if _, dup := uniqueViolation(err); dup {
		return payment.Payment{}, fmt.Errorf("payment authority %s already recorded: %w", p.Authority, err)
	}
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

// PaymentByAuthority implements payment.Store.
func (s *Store) PaymentByAuthority(ctx context.Context, gateway, authority string) (payment.Payment, error) {
	var (
		p           payment.Payment
		status      string
		amount, fee int64
		currency    string
		raw         []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT id, checkout_id, order_id, gateway, status, amount, currency, gateway_fee, authority, ref_id, failure_reason, raw_response, created_at, updated_at, quote_digest
FROM payments WHERE gateway = $1 AND authority = $2`, gateway, authority).Scan(
		&p.ID, &p.CheckoutID, &p.OrderID, &p.Gateway, &status, &amount, &currency, &fee,
		&p.Authority, &p.RefID, &p.FailureReason, &raw, &p.CreatedAt, &p.UpdatedAt, &p.QuoteDigest,
	)
	if notFound(err) {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}
	if err != nil {
		return payment.Payment{}, err
	}
	p.Status = payment.Status(status)
	p.Amount = pricing.New(amount, currency)
	p.GatewayFee = pricing.New(fee, currency)
	p.RawResponse = raw
	return p, nil
}

// UpdatePayment implements payment.Store.
func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) error {
	tag, err := s.db.Exec(ctx, `
UPDATE payments SET
    order_id = $2,
    status = $3,
    gateway_fee = $4,
    ref_id = $5,
    failure_reason = $6,
    raw_response = COALESCE($7, raw_response),
    updated_at = $8
WHERE id = $1`,
		p.ID, p.OrderID, string(p.Status), p.GatewayFee.Amount, p.RefID, p.FailureReason, nullJSON(p.RawResponse), p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}

// InsertEvent implements events.Store.
func (s *Store) InsertEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	_, err := s.db.Exec(ctx, `
INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)`, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

func nullJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
