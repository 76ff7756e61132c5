package docstore

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// QueryFunc runs a one-shot query against a backend.
type QueryFunc func(ctx context.Context, q Query) ([]Document, error)

// Hub fans change signals out to subscriptions of backends whose change feed
// only names the collection that changed (PostgreSQL NOTIFY, MongoDB change
// streams). Each subscription re-runs its query on its own goroutine, so
// bursts of changes coalesce into one snapshot of the latest state.
type Hub struct {
	query QueryFunc
	lg    *zap.Logger

	mu   sync.Mutex
	subs map[*hubSub]struct{}
}

type hubSub struct {
	q      Query
	fn     SnapshotFunc
	signal chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub that answers subscriptions with query.
func NewHub(query QueryFunc, lg *zap.Logger) *Hub {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Hub{
		query: query,
		lg:    lg,
		subs:  make(map[*hubSub]struct{}),
	}
}

// Subscribe registers fn for q. See Store.Subscribe.
func (h *Hub) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &hubSub{
		q:      q,
		fn:     fn,
		signal: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go h.run(ctx, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-s.done
		})
	}, nil
}

// Notify wakes every subscription on collection.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.q.Collection != collection {
			continue
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// NotifyAll wakes every subscription. Backends call it after reconnecting to
// their change feed, since changes may have been missed.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *Hub) run(ctx context.Context, s *hubSub) {
	defer close(s.done)
	defer h.remove(s)
	defer s.cancel()

	deliver := func() bool {
		docs, err := h.query(ctx, s.q)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			h.lg.Warn("Subscription query failed",
				zap.String("collection", s.q.Collection),
				zap.Error(err),
			)
			s.fn(nil, err)
			return false
		}
		s.fn(docs, nil)
		return true
	}

	if !deliver() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
			if !deliver() {
				return
			}
		}
	}
}
