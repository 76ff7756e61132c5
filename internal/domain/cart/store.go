package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
)

// DocumentID is the id of the cart document inside a user's cart collection.
const DocumentID = "items"

// CollectionFor returns the collection holding the cart of userID.
func CollectionFor(userID string) string {
	return fmt.Sprintf("users/%s/cart", userID)
}

// DocStore persists carts as documents.
type DocStore struct {
	docs docstore.Store
}

var _ Store = (*DocStore)(nil)

func NewDocStore(docs docstore.Store) *DocStore {
	return &DocStore{docs: docs}
}

// Load returns the saved lines of userID, or none if nothing was saved.
func (s *DocStore) Load(ctx context.Context, userID string) ([]Line, error) {
	doc, err := s.docs.Get(ctx, CollectionFor(userID), DocumentID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart of %q: %w", userID, err)
	}
	var c Cart
	if err := doc.DataTo(&c); err != nil {
		return nil, err
	}
	return c.Lines, nil
}

// Save replaces the saved cart of userID.
func (s *DocStore) Save(ctx context.Context, userID string, lines []Line) error {
	if lines == nil {
		lines = []Line{}
	}
	data := map[string]any{
		"items":     lines,
		"updatedAt": docstore.ServerTimestamp,
	}
	if err := s.docs.Put(ctx, CollectionFor(userID), DocumentID, data, false); err != nil {
		return fmt.Errorf("saving cart of %q: %w", userID, err)
	}
	return nil
}

// Cache holds recently used carts.
type Cache interface {
	Get(ctx context.Context, userID string) ([]Line, error)
	Set(ctx context.Context, userID string, lines []Line) error
	Delete(ctx context.Context, userID string) error
}

// CachedStore reads carts through a cache. Cache failures are logged and
// never fail the operation; the backing store stays the source of truth.
type CachedStore struct {
	next  Store
	cache Cache
	lg    *zap.Logger
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(next Store, cache Cache, lg *zap.Logger) *CachedStore {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &CachedStore{next: next, cache: cache, lg: lg}
}

func (s *CachedStore) Load(ctx context.Context, userID string) ([]Line, error) {
	lines, err := s.cache.Get(ctx, userID)
	if err == nil {
		return lines, nil
	}
	s.lg.Debug("Cart cache miss", zap.String("user_id", userID), zap.Error(err))

	lines, err = s.next.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, userID, lines); err != nil {
		s.lg.Warn("Cart cache fill failed", zap.String("user_id", userID), zap.Error(err))
	}
	return lines, nil
}

// Save writes through to the backing store. Whenever the cache cannot be
// brought in line with the store, the cached copy is dropped so a stale cart
// is never served.
func (s *CachedStore) Save(ctx context.Context, userID string, lines []Line) error {
	if err := s.next.Save(ctx, userID, lines); err != nil {
		s.evict(ctx, userID)
		return err
	}
	if err := s.cache.Set(ctx, userID, lines); err != nil {
		s.lg.Warn("Cart cache update failed", zap.String("user_id", userID), zap.Error(err))
		s.evict(ctx, userID)
	}
	return nil
}

func (s *CachedStore) evict(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.lg.Warn("Cart cache delete failed", zap.String("user_id", userID), zap.Error(err))
	}
}
