package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// recompute derives every monetary field from the current lines. Rounding is
// applied once, at the total; tax is whatever remains between the rounded
// total and the net amount, so Total == Subtotal - Discount + Tax holds exactly.
func (c *Cart) recompute() {
	subtotal := decimal.Zero
	for _, it := range c.items {
		it.Total = lineTotal(it)
		subtotal = subtotal.Add(it.Total)
	}

	// Shrinking the cart below an applied discount lowers the discount to
	// the new subtotal.
	if c.discount.GreaterThan(subtotal) {
		c.discount = subtotal
	}

	net := subtotal.Sub(c.discount)
	total := net.Add(net.Mul(c.pricing.TaxRate)).Round(c.pricing.Places)

	c.totals = Totals{
		Subtotal: subtotal,
		Discount: c.discount,
		Tax:      total.Sub(net),
		Total:    total,
	}
}

// Verify re-derives the totals independently of the stored values and fails
// when the cart cannot be reconciled with its lines.
func (c *Cart) Verify() error {
	seen := make(map[string]struct{}, len(c.items))
	subtotal := decimal.Zero
	for _, it := range c.items {
		if it.Quantity <= 0 {
			return &InvariantError{Detail: fmt.Sprintf("line %s has quantity %d", it.LineID, it.Quantity)}
		}
		if _, dup := seen[it.ProductID]; dup {
			return &InvariantError{Detail: fmt.Sprintf("product %s appears on more than one line", it.ProductID)}
		}
		seen[it.ProductID] = struct{}{}

		want := lineTotal(it)
		if !it.Total.Equal(want) {
			return &InvariantError{Detail: fmt.Sprintf("line %s total %s != %s", it.LineID, it.Total, want)}
		}
		subtotal = subtotal.Add(want)
	}

	t := c.totals
	if !t.Subtotal.Equal(subtotal) {
		return &InvariantError{Detail: fmt.Sprintf("subtotal %s != %s", t.Subtotal, subtotal)}
	}
	if t.Discount.IsNegative() || t.Discount.GreaterThan(t.Subtotal) {
		return &InvariantError{Detail: fmt.Sprintf("discount %s outside [0, %s]", t.Discount, t.Subtotal)}
	}
	if !t.Total.Equal(t.Subtotal.Sub(t.Discount).Add(t.Tax)) {
		return &InvariantError{Detail: fmt.Sprintf("total %s != subtotal - discount + tax", t.Total)}
	}
	net := t.Subtotal.Sub(t.Discount)
	if want := net.Add(net.Mul(c.pricing.TaxRate)).Round(c.pricing.Places); !t.Total.Equal(want) {
		return &InvariantError{Detail: fmt.Sprintf("total %s != %s", t.Total, want)}
	}
	return nil
}

func lineTotal(it *Item) decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}
