package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCurrency is the storefront currency. Toman has no minor unit, so
// amounts are whole Toman.
const DefaultCurrency = "TOM"

var (
	// ErrCurrencyMismatch is returned when combining amounts of different currencies.
	ErrCurrencyMismatch = errors.New("pricing: currency mismatch")
	// ErrInvalidPercent is returned when a percentage falls outside [0, 100].
	ErrInvalidPercent = errors.New("pricing: percent must be between 0 and 100")
	// ErrNegativeAmount is returned when a percentage is taken of a negative amount.
	ErrNegativeAmount = errors.New("pricing: amount must not be negative")
)

// Money represents a monetary value stored in minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New builds a Money value, normalising the currency code.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: normaliseCurrency(currency)}
}

// Zero returns a zero amount in the provided currency.
func Zero(currency string) Money {
	return New(0, currency)
}

func normaliseCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

func (m Money) sameCurrency(o Money) error {
	if normaliseCurrency(m.Currency) != normaliseCurrency(o.Currency) {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return nil
}

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return New(m.Amount+o.Amount, m.Currency), nil
}

// Sub returns m - o. The result may be negative; callers clamp where required.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return New(m.Amount-o.Amount, m.Currency), nil
}

// Times multiplies the amount by an integer quantity.
func (m Money) Times(qty int64) Money {
	return New(m.Amount*qty, m.Currency)
}

// Percent returns floor(amount * pct / 100).
func (m Money) Percent(pct int64) (Money, error) {
	if pct < 0 || pct > 100 {
		return Money{}, fmt.Errorf("%w: %d", ErrInvalidPercent, pct)
	}
	if m.Amount < 0 {
		return Money{}, ErrNegativeAmount
	}
	return New(m.Amount*pct/100, m.Currency), nil
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.Amount < 0 {
		return Zero(m.Currency)
	}
	return New(m.Amount, m.Currency)
}

// Min returns the smaller of m and o. Currencies are assumed to match.
func (m Money) Min(o Money) Money {
	if o.Amount < m.Amount {
		return New(o.Amount, m.Currency)
	}
	return New(m.Amount, m.Currency)
}

// Cmp compares the amounts of m and o, returning -1, 0 or 1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.Amount < o.Amount:
		return -1
	case m.Amount > o.Amount:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// String renders the amount with its currency code, e.g. "320000 TOM".
func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, normaliseCurrency(m.Currency))
}
