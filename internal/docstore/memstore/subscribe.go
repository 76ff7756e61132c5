package memstore

import (
	"context"
	"sync"

	"github.com/xenking/campus-canteen/internal/docstore"
)

type snapshot struct {
	docs []docstore.Document
	err  error
}

type subscription struct {
	q    docstore.Query
	fn   docstore.SnapshotFunc
	done chan struct{}

	mu     sync.Mutex
	queue  []snapshot
	wake   chan struct{}
	closed bool
}

func (sub *subscription) push(snap snapshot) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.queue = append(sub.queue, snap)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) drain() []snapshot {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	q := sub.queue
	sub.queue = nil
	return q
}

// Subscribe implements docstore.Store.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		q:    q,
		fn:   fn,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}

	s.mu.Lock()
	docs, err := s.find(q)
	sub.push(snapshot{docs: docs, err: err})
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go s.deliver(ctx, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-sub.done
		})
	}, nil
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) deliver(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()

		sub.mu.Lock()
		sub.closed = true
		sub.queue = nil
		sub.mu.Unlock()
	}()

	for {
		for _, snap := range sub.drain() {
			if ctx.Err() != nil {
				return
			}
			sub.fn(snap.docs, snap.err)
			if snap.err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		}
	}
}

// publish queues fresh snapshots for every subscription on collection. It
// must be called with s.mu held.
func (s *Store) publish(collection string) {
	for sub := range s.subs {
		if sub.q.Collection != collection {
			continue
		}
		docs, err := s.find(sub.q)
		sub.push(snapshot{docs: docs, err: err})
	}
}
