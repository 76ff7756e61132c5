package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Session is the live cart of one user. Its in-memory state is
// authoritative: mutations are applied first and then persisted, and a
// failed save never rolls the cart back.
type Session struct {
	userID string
	store  Store
	lg     *zap.Logger
	now    func() time.Time

	// lastUsed is read by the registry without taking mu.
	lastUsed atomic.Int64

	mu   sync.Mutex
	cart Cart
}

// NewSession creates a session over an already loaded cart.
func NewSession(userID string, lines []Line, store Store, lg *zap.Logger) *Session {
	if lg == nil {
		lg = zap.NewNop()
	}
	s := &Session{
		userID: userID,
		store:  store,
		lg:     lg.With(zap.String("user_id", userID)),
		now:    time.Now,
		cart:   Cart{Lines: lines},
	}
	s.touch()
	return s
}

func (s *Session) UserID() string {
	return s.userID
}

// Add puts quantity units of line into the cart.
func (s *Session) Add(ctx context.Context, line Line, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Add(line, quantity)
	return s.persist(ctx)
}

// Remove drops the line for itemID. Removing an absent item is a no-op.
func (s *Session) Remove(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cart.Remove(itemID) {
		return nil
	}
	return s.persist(ctx)
}

// UpdateQuantity sets the quantity for itemID; zero or less removes the line.
func (s *Session) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cart.SetQuantity(itemID, quantity) {
		return nil
	}
	return s.persist(ctx)
}

// Clear empties the cart and persists the empty state.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Clear()
	return s.persist(ctx)
}

// Checkout passes a snapshot of the lines to place while holding the
// session, so no concurrent mutation of the same cart can interleave. The
// cart is cleared only when place succeeds; its error is returned unchanged.
// A *SaveError is returned when the cleared cart could not be persisted.
func (s *Session) Checkout(ctx context.Context, place func(ctx context.Context, lines []Line) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := place(ctx, s.cart.Snapshot()); err != nil {
		return err
	}
	s.cart.Clear()
	return s.persist(ctx)
}

func (s *Session) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Snapshot()
}

func (s *Session) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.TotalPrice()
}

func (s *Session) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.TotalItems()
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// persist must be called with s.mu held.
func (s *Session) persist(ctx context.Context) error {
	s.touch()
	if err := s.store.Save(ctx, s.userID, s.cart.Snapshot()); err != nil {
		s.lg.Warn("Cart not saved, keeping local state", zap.Error(err))
		return &SaveError{UserID: s.userID, Err: err}
	}
	return nil
}
