package domain

import (
	"maps"
	"slices"
	"time"
)

// Basket maps product IDs to requested quantities within one store.
type Basket map[string]int

// ProductIDs returns the basket's products in ascending order. Reservation
// and release order within a basket depend on this ordering.
func (b Basket) ProductIDs() []string {
	return slices.Sorted(maps.Keys(b))
}

// TotalQuantity sums every requested quantity.
func (b Basket) TotalQuantity() int {
	var n int
	for _, q := range b {
		n += q
	}
	return n
}

// Cart represents a user's shopping cart across stores.
type Cart struct {
	UserID    string            `json:"user_id"`
	Baskets   map[string]Basket `json:"baskets"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewCart returns an empty cart for userID.
func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		UserID:    userID,
		Baskets:   make(map[string]Basket),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetQuantity sets the quantity of a product. A non-positive quantity removes it,
// and an emptied basket is dropped.
func (c *Cart) SetQuantity(storeID, productID string, quantity int) {
	if c.Baskets == nil {
		c.Baskets = make(map[string]Basket)
	}
	if quantity <= 0 {
		c.Remove(storeID, productID)
		return
	}
	b, ok := c.Baskets[storeID]
	if !ok {
		b = make(Basket)
		c.Baskets[storeID] = b
	}
	b[productID] = quantity
	c.touch()
}

// Remove drops a product from the cart and reports whether it was present.
func (c *Cart) Remove(storeID, productID string) bool {
	b, ok := c.Baskets[storeID]
	if !ok {
		return false
	}
	if _, ok := b[productID]; !ok {
		return false
	}
	delete(b, productID)
	if len(b) == 0 {
		delete(c.Baskets, storeID)
	}
	c.touch()
	return true
}

// Quantity returns the requested quantity of a product, or 0.
func (c *Cart) Quantity(storeID, productID string) int {
	return c.Baskets[storeID][productID]
}

// StoreIDs returns the stores in the cart in ascending order.
func (c *Cart) StoreIDs() []string {
	return slices.Sorted(maps.Keys(c.Baskets))
}

// IsEmpty reports whether the cart holds no items.
func (c *Cart) IsEmpty() bool {
	for _, b := range c.Baskets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var n int
	for _, b := range c.Baskets {
		n += b.TotalQuantity()
	}
	return n
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Baskets = make(map[string]Basket, len(c.Baskets))
	for id, b := range c.Baskets {
		cp.Baskets[id] = maps.Clone(b)
	}
	return &cp
}

func (c *Cart) touch() {
	c.Version++
	c.UpdatedAt = time.Now().UTC()
}
