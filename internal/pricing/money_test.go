package pricing

import (
	"errors"
	"testing"
)

func TestPercentFloors(t *testing.T) {
	cases := []struct {
		amount int64
		pct    int64
		want   int64
	}{
		{1_000_000, 10, 100_000},
		{900_000, 10, 90_000},
		{999, 10, 99},
		{1, 50, 0},
		{12_345, 0, 0},
		{12_345, 100, 12_345},
	}
	for _, tc := range cases {
		got, err := New(tc.amount, "TOM").Percent(tc.pct)
		if err != nil {
			t.Fatalf("percent(%d,%d): %v", tc.amount, tc.pct, err)
		}
		if got.Amount != tc.want {
			t.Fatalf("percent(%d,%d) = %d, want %d", tc.amount, tc.pct, got.Amount, tc.want)
		}
	}
}

func TestPercentRejectsOutOfRange(t *testing.T) {
	if _, err := New(100, "TOM").Percent(101); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent, got %v", err)
	}
	if _, err := New(100, "TOM").Percent(-1); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent, got %v", err)
	}
	if _, err := New(-100, "TOM").Percent(10); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	_, err := New(1, "TOM").Add(New(1, "USD"))
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	sum, err := New(1, "tom").Add(New(2, "TOM"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Amount != 3 || sum.Currency != "TOM" {
		t.Fatalf("unexpected sum %v", sum)
	}
}

func TestLineTotalClampsAtZero(t *testing.T) {
	l := Line{Qty: 1, UnitPrice: New(100, "TOM"), LineDiscount: New(250, "TOM")}
	got, err := l.Total()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero total, got %v", got)
	}
}

func TestSubtotal(t *testing.T) {
	lines := []Line{
		{Qty: 2, UnitPrice: New(320_000, "TOM")},
		{Qty: 1, UnitPrice: New(590_000, "TOM")},
		{Qty: 0, UnitPrice: New(1_000, "TOM")},
	}
	got, err := Subtotal("TOM", lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Amount != 1_230_000 {
		t.Fatalf("expected 1230000, got %d", got.Amount)
	}
}
