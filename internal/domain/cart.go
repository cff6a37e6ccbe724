package domain

import "time"

// Cart is the full cart state for one owner. The slice preserves the
// order items were added in, which is what the UI renders.
type Cart struct {
	ID        string     `json:"id,omitempty" bson:"_id,omitempty"`
	OwnerID   string     `json:"owner_id" bson:"owner_id"`
	Items     []CartItem `json:"items" bson:"items"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

type CartItem struct {
	ProductID string    `json:"product_id" bson:"product_id"`
	Name      string    `json:"name,omitempty" bson:"name,omitempty"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	UnitPrice float64   `json:"unit_price" bson:"unit_price"`
	AddedAt   time.Time `json:"added_at" bson:"added_at"`
}

// LineSubtotal is the price of this line at the last fetched unit price.
func (i CartItem) LineSubtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Item returns the cart line for productID, if present.
func (c *Cart) Item(productID string) (CartItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}

// ItemQuantity returns the quantity for productID, 0 when absent.
func (c *Cart) ItemQuantity(productID string) int {
	item, ok := c.Item(productID)
	if !ok {
		return 0
	}
	return item.Quantity
}

// Upsert replaces the line for item.ProductID, or appends it, keeping
// display order stable for existing lines.
func (c *Cart) Upsert(item CartItem) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i] = item
			return
		}
	}
	c.Items = append(c.Items, item)
}

// Remove drops the line for productID. Removing an absent line is a no-op.
func (c *Cart) Remove(productID string) bool {
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Snapshots handed out by the cache must not
// share item slices with the cached copy.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}

// Empty returns a fresh cart for ownerID with no items.
func Empty(ownerID string) *Cart {
	now := time.Now()
	return &Cart{
		OwnerID:   ownerID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
