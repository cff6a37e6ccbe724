package domain

// DefaultTaxRate matches the fixed VAT rate the procurement backend bills with.
const DefaultTaxRate = 0.16

// Totals are derived values over a cart snapshot.
type Totals struct {
	TotalItems int     `json:"total_items"`
	Subtotal   float64 `json:"subtotal"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grand_total"`
}

// CalculateTotals is pure and safe to call on any snapshot, including
// nil or empty carts, where every total is zero.
func CalculateTotals(c *Cart, taxRate float64) Totals {
	var t Totals
	if c == nil {
		return t
	}
	for _, item := range c.Items {
		t.TotalItems += item.Quantity
		t.Subtotal += item.LineSubtotal()
	}
	t.Tax = t.Subtotal * taxRate
	t.GrandTotal = t.Subtotal + t.Tax
	return t
}
