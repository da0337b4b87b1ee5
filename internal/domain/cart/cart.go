// Package cart implements the shopping cart aggregate of a kiosk session.
//
// A Cart is not safe for concurrent use: it is owned by exactly one session
// and mutated only from that session's critical section.
package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source tells where a cart addition came from.
type Source string

const (
	// SourceManual is a scan or edit made by the customer or an operator.
	SourceManual Source = "MANUAL"
	// SourceDetection is an addition made by automated item detection.
	SourceDetection Source = "DETECTION"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceManual || s == SourceDetection
}

// DefaultMaxQuantity is the per-line unit ceiling used when Pricing leaves
// MaxQuantity unset.
const DefaultMaxQuantity = 999

// Pricing holds the tax policy, currency precision and line limits applied
// to the cart.
type Pricing struct {
	// TaxRate is the value-added tax as a fraction (0.19 for 19%).
	TaxRate decimal.Decimal
	// Places is the number of digits of the currency's minor unit.
	Places int32
	// MaxQuantity caps the units on a single line.
	MaxQuantity int
}

// DefaultPricing is a 19% VAT with two-digit minor units.
var DefaultPricing = Pricing{
	TaxRate:     decimal.RequireFromString("0.19"),
	Places:      2,
	MaxQuantity: DefaultMaxQuantity,
}

// Item is one cart line. UnitPrice is a snapshot taken when the line was
// first added; Total is always Quantity × UnitPrice.
type Item struct {
	LineID    string          `json:"line_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	Detected  bool            `json:"detected"`
	AddedAt   time.Time       `json:"added_at"`
}

// Totals are the monetary fields derived from the cart lines.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// View is an immutable copy of the cart state.
type View struct {
	Items  []Item `json:"items"`
	Totals Totals `json:"totals"`
	Frozen bool   `json:"frozen"`
}

// Cart holds the ordered lines of one session.
type Cart struct {
	pricing  Pricing
	items    []*Item
	discount decimal.Decimal
	totals   Totals
	frozen   bool
	now      func() time.Time
}

// New creates an empty cart priced with p.
func New(p Pricing) *Cart {
	c := &Cart{
		pricing: p,
		now:     time.Now,
	}
	c.recompute()
	return c
}

// Add puts quantity units of productID into the cart. An existing line for
// the same product is incremented; its unit price snapshot is kept.
func (c *Cart) Add(productID string, quantity int, unitPrice decimal.Decimal, src Source) (Item, error) {
	if c.frozen {
		return Item{}, ErrFrozen
	}
	if productID == "" {
		return Item{}, ErrInvalidProduct
	}
	if quantity <= 0 || quantity > c.maxQuantity() {
		return Item{}, &InvalidQuantityError{Quantity: quantity, Max: c.maxQuantity()}
	}
	if !c.validAmount(unitPrice) {
		return Item{}, &InvalidPriceError{Price: unitPrice}
	}
	if !src.Valid() {
		return Item{}, &InvalidSourceError{Source: src}
	}

	detected := src == SourceDetection
	for _, it := range c.items {
		if it.ProductID == productID {
			if it.Quantity > c.maxQuantity()-quantity {
				return Item{}, &InvalidQuantityError{Quantity: it.Quantity + quantity, Max: c.maxQuantity()}
			}
			it.Quantity += quantity
			it.Detected = it.Detected || detected
			c.recompute()
			return *it, nil
		}
	}

	it := &Item{
		LineID:    uuid.NewString(),
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Detected:  detected,
		AddedAt:   c.now(),
	}
	c.items = append(c.items, it)
	c.recompute()
	return *it, nil
}

// Remove takes units away from a line; units == 0 removes the whole line.
// Removing the last unit of a line removes the line.
func (c *Cart) Remove(lineID string, units int) error {
	if c.frozen {
		return ErrFrozen
	}
	if units < 0 {
		return &InvalidQuantityError{Quantity: units, Max: c.maxQuantity()}
	}
	i := c.indexOf(lineID)
	if i < 0 {
		return ErrLineNotFound
	}
	if units == 0 || units >= c.items[i].Quantity {
		c.items = append(c.items[:i], c.items[i+1:]...)
	} else {
		c.items[i].Quantity -= units
	}
	c.recompute()
	return nil
}

// UpdateQuantity sets the quantity of a line; zero removes it.
func (c *Cart) UpdateQuantity(lineID string, quantity int) error {
	if c.frozen {
		return ErrFrozen
	}
	if quantity < 0 || quantity > c.maxQuantity() {
		return &InvalidQuantityError{Quantity: quantity, Max: c.maxQuantity()}
	}
	i := c.indexOf(lineID)
	if i < 0 {
		return ErrLineNotFound
	}
	if quantity == 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	} else {
		c.items[i].Quantity = quantity
	}
	c.recompute()
	return nil
}

// ApplyDiscount replaces the cart discount. The amount must lie within
// [0, subtotal]; out of range amounts are rejected, never clamped.
func (c *Cart) ApplyDiscount(amount decimal.Decimal) error {
	if c.frozen {
		return ErrFrozen
	}
	if amount.IsNegative() || amount.GreaterThan(c.totals.Subtotal) || !c.validAmount(amount) {
		return &InvalidDiscountError{Amount: amount, Subtotal: c.totals.Subtotal}
	}
	c.discount = amount
	c.recompute()
	return nil
}

// Clear discards every line and the discount regardless of the freeze flag.
func (c *Cart) Clear() {
	c.items = nil
	c.discount = decimal.Zero
	c.frozen = false
	c.recompute()
}

// Freeze makes the cart reject mutations.
func (c *Cart) Freeze() { c.frozen = true }

// Unfreeze re-enables mutations.
func (c *Cart) Unfreeze() { c.frozen = false }

// Frozen reports whether the cart rejects mutations.
func (c *Cart) Frozen() bool { return c.frozen }

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool { return len(c.items) == 0 }

// Totals returns the derived monetary fields.
func (c *Cart) Totals() Totals { return c.totals }

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	out := make([]Item, len(c.items))
	for i, it := range c.items {
		out[i] = *it
	}
	return out
}

// Line returns a copy of the line with the given id.
func (c *Cart) Line(lineID string) (Item, bool) {
	i := c.indexOf(lineID)
	if i < 0 {
		return Item{}, false
	}
	return *c.items[i], true
}

// View returns an immutable copy of the cart.
func (c *Cart) View() View {
	return View{
		Items:  c.Items(),
		Totals: c.totals,
		Frozen: c.frozen,
	}
}

// Clone returns a deep copy of c.
func (c *Cart) Clone() *Cart {
	cp := &Cart{
		pricing:  c.pricing,
		items:    make([]*Item, len(c.items)),
		discount: c.discount,
		totals:   c.totals,
		frozen:   c.frozen,
		now:      c.now,
	}
	for i, it := range c.items {
		line := *it
		cp.items[i] = &line
	}
	return cp
}

func (c *Cart) indexOf(lineID string) int {
	for i, it := range c.items {
		if it.LineID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) maxQuantity() int {
	if c.pricing.MaxQuantity <= 0 {
		return DefaultMaxQuantity
	}
	return c.pricing.MaxQuantity
}

// validAmount reports whether d is non-negative and representable in the
// currency's minor unit.
func (c *Cart) validAmount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(c.pricing.Places))
}
