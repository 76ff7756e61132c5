package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/cart"
	"github.com/xenking/campus-canteen/internal/domain/catalog"
	"github.com/xenking/campus-canteen/internal/domain/order"
)

// Domain types keep their ids out of the stored body; the views put them
// back for clients.

type canteenView struct {
	ID string `json:"id"`
	*catalog.Canteen
}

type registrationView struct {
	ID string `json:"id"`
	*catalog.Registration
}

type menuItemView struct {
	ID        string `json:"id"`
	CanteenID string `json:"canteenId"`
	*catalog.MenuItem
}

type orderView struct {
	ID      string `json:"id"`
	ShortID string `json:"shortId"`
	*order.Order
}

type cartView struct {
	Items      []cart.Line     `json:"items"`
	TotalItems int             `json:"totalItems"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	// Synced is false when the last change could not be saved; the cart is
	// still kept for this session.
	Synced bool `json:"synced"`
}

type statsView struct {
	CanteenID string               `json:"canteenId"`
	Orders    int                  `json:"orders"`
	ByStatus  map[order.Status]int `json:"byStatus"`
	Revenue   decimal.Decimal      `json:"revenue"`
}

func newCanteenView(c *catalog.Canteen) canteenView {
	return canteenView{ID: c.ID, Canteen: c}
}

func newMenuItemView(m *catalog.MenuItem) menuItemView {
	return menuItemView{ID: m.ID, CanteenID: m.CanteenID, MenuItem: m}
}

func newOrderView(o *order.Order) orderView {
	return orderView{ID: o.ID, ShortID: o.ShortID(), Order: o}
}

func newOrderViews(orders []order.Order) []orderView {
	out := make([]orderView, len(orders))
	for i := range orders {
		out[i] = newOrderView(&orders[i])
	}
	return out
}

func newCartView(s *cart.Session, synced bool) cartView {
	items := s.Lines()
	if items == nil {
		items = []cart.Line{}
	}
	return cartView{
		Items:      items,
		TotalItems: s.TotalItems(),
		TotalPrice: s.TotalPrice(),
		Synced:     synced,
	}
}

// principal returns the authenticated caller or errUnauthenticated.
func principal(r *http.Request) (*auth.Principal, error) {
	p := auth.FromContext(r.Context())
	if p == nil {
		return nil, errUnauthenticated
	}
	return p, nil
}
