// Package docstore defines the document store with live queries that backs
// carts, orders, the catalog and API keys.
//
// Documents are JSON objects addressed by a collection path and an id.
// Collection paths may be nested (for example "users/u1/cart"); stores treat
// them as opaque strings. Subscriptions deliver the full current result set
// of a query on every change, never deltas.
package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// OpError is a store failure seen by a domain service. Callers report it as
// storage being unavailable rather than as a fault of the request.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Document is a stored JSON object with its store-managed metadata.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DataTo decodes the document body into v.
func (d Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s/%s", d.Collection, d.ID)
	}
	return nil
}

// Filter is an equality match on a top-level field of the document body.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of a single collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Where returns a copy of q with an additional equality filter.
func (q Query) Where(field string, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// SortBy returns a copy of q ordered by field.
func (q Query) SortBy(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

// SnapshotFunc receives the full result set of a subscribed query. A non-nil
// error ends the subscription; no further calls follow it.
type SnapshotFunc func(docs []Document, err error)

// Unsubscribe releases a subscription. It blocks until the delivery
// goroutine has exited, so it must not be called from inside a SnapshotFunc.
// Calling it more than once is safe.
type Unsubscribe func()

// Store is a document store with live query subscriptions.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Put writes data under id. With merge the top-level fields of data are
	// merged into an existing document, otherwise the document is replaced.
	Put(ctx context.Context, collection, id string, data any, merge bool) error
	// Add creates a document with a store-assigned id.
	Add(ctx context.Context, collection string, data any) (string, error)
	// Update merges fields into an existing document. It returns ErrNotFound
	// when the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Find(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the current result set of q immediately and again
	// after every change to the collection, until ctx is done or the returned
	// Unsubscribe is called.
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error)
}
