// Package watch follows the orders of a user through a live store
// subscription and reports their status changes.
package watch

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/order"
)

// Update is one snapshot of the orders of a user.
type Update struct {
	// Orders is the full current list, newest first.
	Orders []order.Order
	// Changes holds the orders whose status changed since the previous
	// snapshot. It is empty for the first snapshot.
	Changes       []order.StatusChange
	Notifications []order.Notification
}

// Watcher owns order subscriptions.
type Watcher struct {
	docs docstore.Store
	lg   *zap.Logger
}

func New(docs docstore.Store, lg *zap.Logger) *Watcher {
	return &Watcher{docs: docs, lg: lg}
}

// Run follows the orders of userID and calls emit for each snapshot, in
// arrival order, until ctx ends. If the subscription fails, Run queries the
// orders once more, emits that result and returns the subscription error.
// The subscription is released before Run returns.
func (w *Watcher) Run(ctx context.Context, userID string, emit func(Update)) error {
	q := order.UserOrdersQuery(userID)
	lg := w.lg.With(zap.String("user_id", userID))
	s := &session{w: w, emit: emit, lg: lg}

	errc := make(chan error, 1)
	unsubscribe, err := w.docs.Subscribe(ctx, q, func(docs []docstore.Document, err error) {
		if err != nil {
			errc <- err
			return
		}
		s.handle(docs)
	})
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case subErr := <-errc:
		lg.Warn("Order subscription failed, using one-shot query", zap.Error(subErr))
		docs, err := w.docs.Find(ctx, q)
		if err != nil {
			return errors.Wrap(err, "query orders")
		}
		s.handle(docs)
		return errors.Wrap(subErr, "subscription")
	}
}

type session struct {
	w    *Watcher
	emit func(Update)
	lg   *zap.Logger

	mu   sync.Mutex
	prev []order.Order
}

func (s *session) handle(docs []docstore.Document) {
	orders, err := order.FromDocuments(docs)
	if err != nil {
		s.lg.Warn("Skipping undecodable order snapshot", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes := order.DiffStatuses(s.prev, orders)
	s.prev = orders
	u := Update{
		Orders:        orders,
		Changes:       changes,
		Notifications: order.Notifications(changes),
	}
	if s.emit != nil {
		s.emit(u)
	}
}
