// Package order turns carts into orders and drives them through their
// status lifecycle.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/cart"
)

// Collection holds order documents.
const Collection = "orders"

// PaymentStatusCompleted marks a paid order. Payment is simulated and always
// succeeds when a method is chosen.
const PaymentStatusCompleted = "completed"

// Order is a placed order. Items and money fields are frozen at checkout;
// only Status and UpdatedAt change afterwards.
type Order struct {
	ID            string          `json:"-"`
	UserID        string          `json:"userId"`
	UserEmail     string          `json:"userEmail"`
	CustomerName  string          `json:"customerName"`
	CanteenID     string          `json:"canteenId"`
	CanteenName   string          `json:"canteenName"`
	Items         []cart.Line     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"totalWithTax"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	PaymentStatus string          `json:"paymentStatus,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Transition moves o to status to. It fails with *InvalidTransitionError and
// leaves o untouched when the move is not allowed.
func (o *Order) Transition(to Status, now time.Time) error {
	if !o.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// ShortID is the tail of the id shown to customers.
func (o *Order) ShortID() string {
	if len(o.ID) <= 8 {
		return o.ID
	}
	return o.ID[len(o.ID)-8:]
}

// record is the stored shape of a new order: timestamps are resolved by the
// store.
type record struct {
	*Order
	CreatedAt any `json:"createdAt"`
	UpdatedAt any `json:"updatedAt"`
}

func newRecord(o *Order) record {
	return record{
		Order:     o,
		CreatedAt: docstore.ServerTimestamp,
		UpdatedAt: docstore.ServerTimestamp,
	}
}

// FromDocument decodes a stored order.
func FromDocument(doc docstore.Document) (*Order, error) {
	var o Order
	if err := doc.DataTo(&o); err != nil {
		return nil, err
	}
	o.ID = doc.ID
	return &o, nil
}

// FromDocuments decodes stored orders, preserving their order.
func FromDocuments(docs []docstore.Document) ([]Order, error) {
	out := make([]Order, 0, len(docs))
	for _, d := range docs {
		o, err := FromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// Notification is a message for the owner of an order. Tag deduplicates
// notifications about the same order on the receiving side.
type Notification struct {
	UserID string
	Title  string
	Body   string
	Tag    string
}

// Notifier delivers notifications. Delivery is fire-and-forget: sinks log
// their own failures and a sink that cannot deliver is a silent no-op.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotificationFor builds the notification announcing the current status of
// o. It reports false for statuses that are not announced.
func NotificationFor(o *Order) (Notification, bool) {
	a, ok := announcements[o.Status]
	if !ok {
		return Notification{}, false
	}
	return Notification{
		UserID: o.UserID,
		Title:  a.title,
		Body:   fmt.Sprintf(a.body, o.ShortID()),
		Tag:    o.ID,
	}, true
}
