package docstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig configures the circuit breaker around a remote store.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probe requests allowed while half-open.
	HalfOpenRequests uint32
}

// Breaker wraps a Store with a circuit breaker. ErrNotFound and context
// cancellation are not counted as failures.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

var _ Store = (*Breaker)(nil)

// NewBreaker returns a Store that fails fast with gobreaker.ErrOpenState
// while the backend is unhealthy.
func NewBreaker(name string, next Store, cfg BreakerConfig, lg *zap.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Store circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](st),
	}
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Get(ctx context.Context, collection, id string) (*Document, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Get(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	doc, _ := v.(*Document)
	return doc, nil
}

func (b *Breaker) Put(ctx context.Context, collection, id string, data any, merge bool) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Put(ctx, collection, id, data, merge)
	})
	return err
}

func (b *Breaker) Add(ctx context.Context, collection string, data any) (string, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Add(ctx, collection, data)
	})
	if err != nil {
		return "", err
	}
	id, _ := v.(string)
	return id, nil
}

func (b *Breaker) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Update(ctx, collection, id, fields)
	})
	return err
}

func (b *Breaker) Find(ctx context.Context, q Query) ([]Document, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Find(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	docs, _ := v.([]Document)
	return docs, nil
}

// Subscribe is passed through; a live subscription is not a single request.
func (b *Breaker) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	return b.next.Subscribe(ctx, q, fn)
}

// Unwrap returns the wrapped store.
func (b *Breaker) Unwrap() Store {
	return b.next
}
