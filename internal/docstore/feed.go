package docstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	feedMinBackoff = 100 * time.Millisecond
	feedMaxBackoff = 10 * time.Second
)

// FollowFeed keeps a backend change feed running until ctx ends. follow
// should block while the feed is healthy and return when it breaks; it is
// called again after a backoff. reconnect is false only on the first call.
func FollowFeed(ctx context.Context, lg *zap.Logger, follow func(ctx context.Context, reconnect bool) error) error {
	backoff := feedMinBackoff
	for reconnect := false; ; reconnect = true {
		started := time.Now()
		err := follow(ctx, reconnect)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > feedMaxBackoff {
			backoff = feedMinBackoff
		}
		lg.Warn("Change feed interrupted", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, feedMaxBackoff)
	}
}
