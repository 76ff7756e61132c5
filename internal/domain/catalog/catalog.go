// Package catalog manages canteens and their menus.
package catalog

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/cart"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalid   = errors.New("invalid")
	ErrForbidden = errors.New("forbidden")
)

// CanteenCollection holds canteen documents.
const CanteenCollection = "canteens"

// MenuCollection is the collection of menu items of canteenID.
func MenuCollection(canteenID string) string {
	return CanteenCollection + "/" + canteenID + "/menuItems"
}

// Canteen is a food vendor. Deleting a canteen only deactivates it.
type Canteen struct {
	ID             string    `json:"-"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Location       string    `json:"location,omitempty"`
	ImageURL       string    `json:"imageURL,omitempty"`
	OpenTime       string    `json:"openTime,omitempty"`
	CloseTime      string    `json:"closeTime,omitempty"`
	IsTakingOrders bool      `json:"isTakingOrders"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (c *Canteen) validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrInvalid, "canteen name is required")
	}
	if err := validateHours(c.OpenTime, c.CloseTime); err != nil {
		return err
	}
	return nil
}

// hoursLayout is the layout of opening and closing times.
const hoursLayout = "15:04"

func validateHours(times ...string) error {
	for _, t := range times {
		if t == "" {
			continue
		}
		if _, err := time.Parse(hoursLayout, t); err != nil {
			return errors.Wrapf(ErrInvalid, "time %q is not HH:MM", t)
		}
	}
	return nil
}

// CanteenPatch holds the fields of a canteen edit; nil fields are kept.
// Activity and order intake have their own operations.
type CanteenPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`
	ImageURL    *string `json:"imageURL,omitempty"`
	OpenTime    *string `json:"openTime,omitempty"`
	CloseTime   *string `json:"closeTime,omitempty"`
}

func (p CanteenPatch) fields() (map[string]any, error) {
	f := map[string]any{"updatedAt": docstore.ServerTimestamp}
	set := func(name string, v *string) {
		if v != nil {
			f[name] = *v
		}
	}
	if p.Name != nil && *p.Name == "" {
		return nil, errors.Wrap(ErrInvalid, "canteen name is required")
	}
	for _, t := range []*string{p.OpenTime, p.CloseTime} {
		if t != nil {
			if err := validateHours(*t); err != nil {
				return nil, err
			}
		}
	}
	set("name", p.Name)
	set("description", p.Description)
	set("location", p.Location)
	set("imageURL", p.ImageURL)
	set("openTime", p.OpenTime)
	set("closeTime", p.CloseTime)
	return f, nil
}

// MenuItem is a dish offered by a canteen. Removing an item only marks it
// unavailable.
type MenuItem struct {
	ID          string          `json:"-"`
	CanteenID   string          `json:"-"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category,omitempty"`
	ImageURL    string          `json:"imageURL,omitempty"`
	IsAvailable bool            `json:"isAvailable"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (m *MenuItem) validate() error {
	if m.Name == "" {
		return errors.Wrap(ErrInvalid, "item name is required")
	}
	if m.Price.IsNegative() {
		return errors.Wrapf(ErrInvalid, "price %s is negative", m.Price)
	}
	return nil
}

// Line returns the cart line for m sold by canteen c.
func (m *MenuItem) Line(c *Canteen) cart.Line {
	return cart.Line{
		ItemID:      m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		ImageRef:    m.ImageURL,
		Category:    m.Category,
		CanteenID:   c.ID,
		CanteenName: c.Name,
	}
}

// MenuItemPatch holds the fields of an item update; nil fields are kept.
type MenuItemPatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Category    *string          `json:"category,omitempty"`
	ImageURL    *string          `json:"imageURL,omitempty"`
	IsAvailable *bool            `json:"isAvailable,omitempty"`
}

func (p MenuItemPatch) fields() (map[string]any, error) {
	f := map[string]any{"updatedAt": docstore.ServerTimestamp}
	if p.Name != nil {
		if *p.Name == "" {
			return nil, errors.Wrap(ErrInvalid, "item name is required")
		}
		f["name"] = *p.Name
	}
	if p.Description != nil {
		f["description"] = *p.Description
	}
	if p.Price != nil {
		if p.Price.IsNegative() {
			return nil, errors.Wrapf(ErrInvalid, "price %s is negative", p.Price)
		}
		f["price"] = *p.Price
	}
	if p.Category != nil {
		f["category"] = *p.Category
	}
	if p.ImageURL != nil {
		f["imageURL"] = *p.ImageURL
	}
	if p.IsAvailable != nil {
		f["isAvailable"] = *p.IsAvailable
	}
	return f, nil
}

type canteenRecord struct {
	*Canteen
	CreatedAt any `json:"createdAt"`
	UpdatedAt any `json:"updatedAt"`
}

type menuItemRecord struct {
	*MenuItem
	CreatedAt any `json:"createdAt"`
	UpdatedAt any `json:"updatedAt"`
}

func decodeCanteen(doc docstore.Document) (*Canteen, error) {
	var c Canteen
	if err := doc.DataTo(&c); err != nil {
		return nil, errors.Wrapf(err, "decode canteen %s", doc.ID)
	}
	c.ID = doc.ID
	return &c, nil
}

func decodeMenuItem(canteenID string, doc docstore.Document) (*MenuItem, error) {
	var m MenuItem
	if err := doc.DataTo(&m); err != nil {
		return nil, errors.Wrapf(err, "decode menu item %s", doc.ID)
	}
	m.ID = doc.ID
	m.CanteenID = canteenID
	return &m, nil
}
