package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTotals(t *testing.T) {
	cart := Empty("owner-1")
	cart.Items = []CartItem{
		{ProductID: "A", Quantity: 2, UnitPrice: 10.00},
		{ProductID: "B", Quantity: 1, UnitPrice: 5.00},
	}

	totals := CalculateTotals(cart, 0.16)

	assert.Equal(t, 3, totals.TotalItems)
	assert.InDelta(t, 25.00, totals.Subtotal, 1e-9)
	assert.InDelta(t, 4.00, totals.Tax, 1e-9)
	assert.InDelta(t, 29.00, totals.GrandTotal, 1e-9)
}

func TestCalculateTotals_Empty(t *testing.T) {
	totals := CalculateTotals(Empty("owner-1"), 0.16)

	assert.Zero(t, totals.TotalItems)
	assert.Zero(t, totals.Subtotal)
	assert.Zero(t, totals.Tax)
	assert.Zero(t, totals.GrandTotal)

	assert.Zero(t, CalculateTotals(nil, 0.16))
}

func TestUpsert_ReplacesExistingLine(t *testing.T) {
	cart := Empty("owner-1")
	cart.Upsert(CartItem{ProductID: "A", Quantity: 1, UnitPrice: 2.50})
	cart.Upsert(CartItem{ProductID: "B", Quantity: 1, UnitPrice: 1.00})
	cart.Upsert(CartItem{ProductID: "A", Quantity: 4, UnitPrice: 2.50})

	require.Len(t, cart.Items, 2)
	assert.Equal(t, "A", cart.Items[0].ProductID, "display order must stay stable")
	assert.Equal(t, 4, cart.Items[0].Quantity)
}

func TestRemove_AbsentLineIsNoop(t *testing.T) {
	cart := Empty("owner-1")
	cart.Upsert(CartItem{ProductID: "A", Quantity: 1})

	assert.False(t, cart.Remove("missing"))
	require.Len(t, cart.Items, 1)

	assert.True(t, cart.Remove("A"))
	assert.Empty(t, cart.Items)
}

func TestItemQuantity(t *testing.T) {
	cart := Empty("owner-1")
	cart.Upsert(CartItem{ProductID: "A", Quantity: 7})

	assert.Equal(t, 7, cart.ItemQuantity("A"))
	assert.Equal(t, 0, cart.ItemQuantity("missing"))
}

func TestClone_Independent(t *testing.T) {
	cart := Empty("owner-1")
	cart.Upsert(CartItem{ProductID: "A", Quantity: 1})

	clone := cart.Clone()
	clone.Items[0].Quantity = 99
	clone.Upsert(CartItem{ProductID: "B", Quantity: 1})

	assert.Equal(t, 1, cart.Items[0].Quantity)
	assert.Len(t, cart.Items, 1)
}
