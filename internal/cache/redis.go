// Package cache keeps recently used carts in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/campus-canteen/internal/domain/cart"
)

// ErrCacheMiss is returned when no cart is cached for the user.
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL is the base lifetime of a cached cart.
const DefaultTTL = 15 * time.Minute

// RedisCache stores carts as JSON under cart:{userID}. Each write gets a TTL
// of baseTTL plus up to maxJitter so entries written together do not expire
// together.
type RedisCache struct {
	client    redis.Cmdable
	baseTTL   time.Duration
	maxJitter time.Duration
}

var _ cart.Cache = (*RedisCache)(nil)

// NewRedisCache returns a RedisCache. A zero ttl means DefaultTTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client:    client,
		baseTTL:   ttl,
		maxJitter: ttl / 3,
	}
}

type entry struct {
	Items []cart.Line `json:"items"`
}

func (r *RedisCache) Get(ctx context.Context, userID string) ([]cart.Line, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return e.Items, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, lines []cart.Line) error {
	data, err := json.Marshal(entry{Items: lines})
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, cacheKey(userID), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping checks the connection; it is used as a readiness check.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) ttl() time.Duration {
	if r.maxJitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + rand.N(r.maxJitter)
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
