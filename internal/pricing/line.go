package pricing

// Line describes a priced cart line.
type Line struct {
	Qty          int64
	UnitPrice    Money
	LineDiscount Money
}

// Total returns max(0, qty*unit - discount).
func (l Line) Total() (Money, error) {
	gross := l.UnitPrice.Times(l.Qty)
	discount := l.LineDiscount
	if discount.Currency == "" {
		discount = Zero(gross.Currency)
	}
	net, err := gross.Sub(discount)
	if err != nil {
		return Money{}, err
	}
	return net.ClampZero(), nil
}

// Subtotal sums the totals of the provided lines. Lines with a non-positive
// quantity are skipped.
func Subtotal(currency string, lines []Line) (Money, error) {
	total := Zero(currency)
	for _, l := range lines {
		if l.Qty <= 0 {
			continue
		}
		lt, err := l.Total()
		if err != nil {
			return Money{}, err
		}
		total, err = total.Add(lt)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
