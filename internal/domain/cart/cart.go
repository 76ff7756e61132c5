// Package cart models the per-user shopping cart that is turned into an
// order at checkout.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is one menu item in a cart with the quantity selected.
type Line struct {
	ItemID      string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageRef    string          `json:"imageURL,omitempty"`
	Category    string          `json:"category,omitempty"`
	CanteenID   string          `json:"canteenId"`
	CanteenName string          `json:"canteenName"`
	Quantity    int             `json:"quantity"`
}

// Subtotal returns price * quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an ordered list of lines, unique by item id. Lines from different
// canteens may coexist; checkout rejects them.
type Cart struct {
	Lines []Line `json:"items"`
}

// Add increments the quantity of an existing line with the same item id,
// or appends line with quantity delta. A delta below 1 counts as 1.
func (c *Cart) Add(line Line, delta int) {
	if delta < 1 {
		delta = 1
	}
	for i := range c.Lines {
		if c.Lines[i].ItemID == line.ItemID {
			c.Lines[i].Quantity += delta
			return
		}
	}
	line.Quantity = delta
	c.Lines = append(c.Lines, line)
}

// Remove deletes the line for itemID. It reports whether a line was removed.
func (c *Cart) Remove(itemID string) bool {
	for i := range c.Lines {
		if c.Lines[i].ItemID == itemID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return true
		}
	}
	return false
}

// SetQuantity sets the quantity of the line for itemID. A quantity of zero or
// less removes the line. It reports whether the cart changed.
func (c *Cart) SetQuantity(itemID string, quantity int) bool {
	if quantity <= 0 {
		return c.Remove(itemID)
	}
	for i := range c.Lines {
		if c.Lines[i].ItemID == itemID {
			c.Lines[i].Quantity = quantity
			return true
		}
	}
	return false
}

func (c *Cart) Clear() {
	c.Lines = nil
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// TotalPrice is the sum of price * quantity over all lines.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// TotalItems is the sum of quantities over all lines.
func (c *Cart) TotalItems() int {
	var n int
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// CanteenIDs returns the distinct canteen ids in line order.
func (c *Cart) CanteenIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, l := range c.Lines {
		if _, ok := seen[l.CanteenID]; ok {
			continue
		}
		seen[l.CanteenID] = struct{}{}
		ids = append(ids, l.CanteenID)
	}
	return ids
}

// Snapshot returns a copy of the lines.
func (c *Cart) Snapshot() []Line {
	if len(c.Lines) == 0 {
		return []Line{}
	}
	out := make([]Line, len(c.Lines))
	copy(out, c.Lines)
	return out
}

// Store persists the full cart of a user.
type Store interface {
	Load(ctx context.Context, userID string) ([]Line, error)
	Save(ctx context.Context, userID string, lines []Line) error
}
