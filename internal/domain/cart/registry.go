package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/campus-canteen/internal/docstore"
)

// Registry hands out one Session per user, loading it from the store on
// first use and evicting it after it has been idle for the configured TTL.
// A session is never evicted while a caller holds it.
type Registry struct {
	store   Store
	lg      *zap.Logger
	idleTTL time.Duration
	loads   singleflight.Group

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	s    *Session
	refs int
}

// NewRegistry creates a Registry. A zero idleTTL keeps sessions forever.
func NewRegistry(store Store, idleTTL time.Duration, lg *zap.Logger) *Registry {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Registry{
		store:    store,
		lg:       lg,
		idleTTL:  idleTTL,
		sessions: make(map[string]*entry),
	}
}

// Session returns the session of userID, loading the persisted cart if the
// session is not open yet. The caller must call release once done with the
// session. Loads of different users run independently; concurrent loads of
// one user share a single store read.
func (r *Registry) Session(ctx context.Context, userID string) (s *Session, release func(), err error) {
	if userID == "" {
		return nil, nil, errors.New("user id is empty")
	}
	if e := r.acquire(userID, nil); e != nil {
		return e.s, r.releaser(userID, e), nil
	}

	v, err, _ := r.loads.Do(userID, func() (any, error) {
		return r.store.Load(ctx, userID)
	})
	if err != nil {
		return nil, nil, &docstore.OpError{Op: "load cart of " + userID, Err: err}
	}
	lines, _ := v.([]Line)

	e := r.acquire(userID, func() *Session {
		return NewSession(userID, append([]Line(nil), lines...), r.store, r.lg)
	})
	return e.s, r.releaser(userID, e), nil
}

// acquire takes a reference on the open session of userID. When none is
// open, a session from open is registered, or nil is returned if open is nil.
func (r *Registry) acquire(userID string, open func() *Session) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[userID]
	if !ok {
		if open == nil {
			return nil
		}
		e = &entry{s: open()}
		r.sessions[userID] = e
	}
	e.refs++
	return e
}

func (r *Registry) releaser(userID string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.s.touch()
			r.mu.Lock()
			defer r.mu.Unlock()
			e.refs--
			if e.refs < 0 {
				r.lg.Error("Cart session released too often", zap.String("user_id", userID))
				e.refs = 0
			}
		})
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions that nobody holds and that have been idle since
// before now - idleTTL, and returns how many were closed. Their carts remain
// in the store.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for id, e := range r.sessions {
		if e.refs > 0 {
			continue
		}
		if now.Sub(e.s.idleSince()) >= r.idleTTL {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if r.idleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		return errors.Errorf("sweep interval %s is not positive", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.lg.Debug("Closed idle cart sessions", zap.Int("count", n))
			}
		}
	}
}
