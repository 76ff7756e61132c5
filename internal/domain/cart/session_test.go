package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/docstore/memstore"
)

// --- Mock implementations ---

type mockStore struct {
	mu      sync.Mutex
	saved   map[string][]Line
	saves   int
	loadErr error
	saveErr error
}

func newMockStore() *mockStore {
	return &mockStore{saved: make(map[string][]Line)}
}

func (m *mockStore) Load(_ context.Context, userID string) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved[userID], nil
}

func (m *mockStore) Save(_ context.Context, userID string, lines []Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[userID] = lines
	return nil
}

// gatedStore blocks loads of the gated user until gate is closed.
type gatedStore struct {
	*mockStore
	gated   string
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedStore) Load(ctx context.Context, userID string) ([]Line, error) {
	if userID == g.gated {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.mockStore.Load(ctx, userID)
}

type mockCache struct {
	lines   map[string][]Line
	getErr  error
	setErr  error
	deleted []string
}

func (m *mockCache) Get(_ context.Context, userID string) ([]Line, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	lines, ok := m.lines[userID]
	if !ok {
		return nil, errors.New("miss")
	}
	return lines, nil
}

func (m *mockCache) Set(_ context.Context, userID string, lines []Line) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.lines[userID] = lines
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.deleted = append(m.deleted, userID)
	delete(m.lines, userID)
	return nil
}

// --- Tests ---

func TestSession_PersistsEveryMutation(t *testing.T) {
	store := newMockStore()
	s := NewSession("u1", nil, store, nil)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, newLine("a", "c1", "4.00"), 1))
	require.NoError(t, s.Add(ctx, newLine("a", "c1", "4.00"), 1))
	require.NoError(t, s.UpdateQuantity(ctx, "a", 3))

	assert.Equal(t, 3, store.saves)
	require.Len(t, store.saved["u1"], 1)
	assert.Equal(t, 3, store.saved["u1"][0].Quantity)
	assert.Equal(t, 3, s.TotalItems())
	assert.Equal(t, "12", s.TotalPrice().String())

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, store.saved["u1"])
}

func TestSession_NoOpsDoNotPersist(t *testing.T) {
	store := newMockStore()
	s := NewSession("u1", nil, store, nil)
	ctx := context.Background()

	require.NoError(t, s.Remove(ctx, "missing"))
	require.NoError(t, s.UpdateQuantity(ctx, "missing", 2))
	assert.Zero(t, store.saves)
}

func TestSession_SaveFailureKeepsLocalState(t *testing.T) {
	store := newMockStore()
	store.saveErr = errors.New("offline")
	s := NewSession("u1", nil, store, nil)

	err := s.Add(context.Background(), newLine("a", "c1", "1.00"), 2)

	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, "u1", saveErr.UserID)
	assert.EqualError(t, errors.Unwrap(err), "offline")

	lines := s.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestSession_CheckoutClearsOnlyOnSuccess(t *testing.T) {
	store := newMockStore()
	s := NewSession("u1", []Line{newLine("a", "c1", "1.00")}, store, nil)
	ctx := context.Background()
	before := s.Lines()

	placeErr := errors.New("rejected")
	err := s.Checkout(ctx, func(_ context.Context, lines []Line) error {
		return placeErr
	})
	require.ErrorIs(t, err, placeErr)
	if diff := cmp.Diff(before, s.Lines()); diff != "" {
		t.Fatalf("cart changed after failed checkout (-before +after):\n%s", diff)
	}

	var placed []Line
	err = s.Checkout(ctx, func(_ context.Context, lines []Line) error {
		placed = lines
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, placed, 1)
	assert.Empty(t, s.Lines())
	assert.Empty(t, store.saved["u1"])
}

func TestSession_CheckoutClearSaveFailure(t *testing.T) {
	store := newMockStore()
	s := NewSession("u1", []Line{newLine("a", "c1", "1.00")}, store, nil)
	store.saveErr = errors.New("offline")

	err := s.Checkout(context.Background(), func(context.Context, []Line) error { return nil })

	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Empty(t, s.Lines())
}

func TestRegistry_SessionPerUser(t *testing.T) {
	store := newMockStore()
	store.saved["u1"] = []Line{newLine("a", "c1", "1.00")}
	r := NewRegistry(store, time.Minute, nil)
	ctx := context.Background()

	s1, release1, err := r.Session(ctx, "u1")
	require.NoError(t, err)
	defer release1()
	again, releaseAgain, err := r.Session(ctx, "u1")
	require.NoError(t, err)
	defer releaseAgain()
	s2, release2, err := r.Session(ctx, "u2")
	require.NoError(t, err)
	defer release2()

	assert.Same(t, s1, again)
	assert.NotSame(t, s1, s2)
	assert.Len(t, s1.Lines(), 1)
	assert.Empty(t, s2.Lines())
	assert.Equal(t, 2, r.Len())

	_, _, err = r.Session(ctx, "")
	require.Error(t, err)
}

func TestRegistry_LoadFailureIsNotCached(t *testing.T) {
	store := newMockStore()
	store.loadErr = errors.New("offline")
	r := NewRegistry(store, time.Minute, nil)

	_, _, err := r.Session(context.Background(), "u1")
	require.ErrorIs(t, err, store.loadErr)
	var opErr *docstore.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Zero(t, r.Len())
}

func TestRegistry_Sweep(t *testing.T) {
	store := newMockStore()
	r := NewRegistry(store, time.Minute, nil)
	ctx := context.Background()

	s, release, err := r.Session(ctx, "u1")
	require.NoError(t, err)
	release()
	release()

	assert.Zero(t, r.Sweep(s.idleSince().Add(30*time.Second)))
	assert.Equal(t, 1, r.Sweep(s.idleSince().Add(time.Minute)))
	assert.Zero(t, r.Len())
}

func TestRegistry_SweepKeepsHeldSessions(t *testing.T) {
	store := newMockStore()
	r := NewRegistry(store, time.Minute, nil)
	ctx := context.Background()

	s1, release1, err := r.Session(ctx, "u1")
	require.NoError(t, err)
	later := s1.idleSince().Add(2 * time.Minute)

	assert.Zero(t, r.Sweep(later))
	s2, release2, err := r.Session(ctx, "u1")
	require.NoError(t, err)
	require.Same(t, s1, s2)

	require.NoError(t, s1.Add(ctx, newLine("a", "c1", "1.00"), 1))
	require.NoError(t, s2.Add(ctx, newLine("b", "c1", "2.00"), 1))
	assert.Len(t, store.saved["u1"], 2)

	release1()
	assert.Zero(t, r.Sweep(later.Add(time.Hour)), "still held")
	release2()
	assert.Equal(t, 1, r.Sweep(s1.idleSince().Add(time.Minute)))
}

func TestRegistry_SlowLoadDoesNotBlockOtherUsers(t *testing.T) {
	store := &gatedStore{mockStore: newMockStore(), gated: "slow", gate: make(chan struct{}), entered: make(chan struct{})}
	r := NewRegistry(store, time.Minute, nil)
	ctx := context.Background()

	const waiters = 3
	got := make(chan *Session, waiters)
	for range waiters {
		go func() {
			s, release, err := r.Session(ctx, "slow")
			if err != nil {
				got <- nil
				return
			}
			release()
			got <- s
		}()
	}
	<-store.entered

	done := make(chan error, 1)
	go func() {
		_, release, err := r.Session(ctx, "fast")
		if err == nil {
			release()
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cart of one user blocked behind the load of another")
	}

	close(store.gate)
	first := <-got
	require.NotNil(t, first)
	for range waiters - 1 {
		assert.Same(t, first, <-got)
	}
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_RunRejectsNonPositiveInterval(t *testing.T) {
	r := NewRegistry(newMockStore(), time.Minute, nil)
	require.Error(t, r.Run(context.Background(), 0))
}

func TestDocStore_RoundTrip(t *testing.T) {
	docs := memstore.New()
	store := NewDocStore(docs)
	ctx := context.Background()

	lines, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, lines)

	want := []Line{newLine("a", "c1", "3.50"), newLine("b", "c1", "1.25")}
	want[0].Quantity = 2
	want[1].Quantity = 1
	require.NoError(t, store.Save(ctx, "u1", want))

	doc, err := docs.Get(ctx, "users/u1/cart", DocumentID)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Data), `"items":[`)

	got, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].ItemID, got[i].ItemID)
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.True(t, want[i].Price.Equal(got[i].Price))
	}

	require.NoError(t, store.Save(ctx, "u1", nil))
	got, err = store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocStore_SaveFailure(t *testing.T) {
	docs := memstore.New()
	docs.FailNext(errors.New("unavailable"))

	err := NewDocStore(docs).Save(context.Background(), "u1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `saving cart of "u1"`)
	assert.NotErrorIs(t, err, docstore.ErrNotFound)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	lines := []Line{newLine("a", "c1", "1.00")}

	t.Run("hit skips store", func(t *testing.T) {
		store := newMockStore()
		store.loadErr = errors.New("must not be called")
		cache := &mockCache{lines: map[string][]Line{"u1": lines}}

		got, err := NewCachedStore(store, cache, nil).Load(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, lines, got)
	})

	t.Run("miss fills cache", func(t *testing.T) {
		store := newMockStore()
		store.saved["u1"] = lines
		cache := &mockCache{lines: map[string][]Line{}}

		got, err := NewCachedStore(store, cache, nil).Load(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, lines, got)
		assert.Equal(t, lines, cache.lines["u1"])
	})

	t.Run("save failure drops cached copy", func(t *testing.T) {
		store := newMockStore()
		store.saveErr = errors.New("offline")
		cache := &mockCache{lines: map[string][]Line{"u1": lines}}

		err := NewCachedStore(store, cache, nil).Save(ctx, "u1", nil)
		require.Error(t, err)
		assert.Equal(t, []string{"u1"}, cache.deleted)
	})

	t.Run("cache failure does not fail save", func(t *testing.T) {
		store := newMockStore()
		cache := &mockCache{lines: map[string][]Line{}, setErr: errors.New("redis down")}

		require.NoError(t, NewCachedStore(store, cache, nil).Save(ctx, "u1", lines))
		assert.Equal(t, lines, store.saved["u1"])
	})

	t.Run("cache failure after save never serves older cart", func(t *testing.T) {
		store := newMockStore()
		cache := &mockCache{lines: map[string][]Line{}}
		cs := NewCachedStore(store, cache, nil)

		require.NoError(t, cs.Save(ctx, "u1", lines))
		require.Equal(t, lines, cache.lines["u1"])

		newer := []Line{newLine("a", "c1", "1.00"), newLine("b", "c1", "2.00")}
		cache.setErr = errors.New("redis down")
		require.NoError(t, cs.Save(ctx, "u1", newer))
		assert.Equal(t, []string{"u1"}, cache.deleted)

		got, err := cs.Load(ctx, "u1")
		require.NoError(t, err)
		if diff := cmp.Diff(newer, got); diff != "" {
			t.Errorf("loaded cart mismatch (-want +got):\n%s", diff)
		}
	})
}
