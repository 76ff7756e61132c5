package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
)

// Channel is the NOTIFY channel the documents trigger publishes to. The
// payload is the collection that changed.
const Channel = "documents"

// Listener waits for change notifications on one connection.
type Listener interface {
	Exec(ctx context.Context, sql string, args ...any) error
	WaitForNotification(ctx context.Context) (collection string, err error)
	Release()
}

// Acquirer opens listener connections.
type Acquirer func(ctx context.Context) (Listener, error)

// PoolAcquirer takes listener connections from pool.
func PoolAcquirer(pool *pgxpool.Pool) Acquirer {
	return func(ctx context.Context) (Listener, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return poolListener{conn: conn}, nil
	}
}

type poolListener struct {
	conn *pgxpool.Conn
}

func (l poolListener) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := l.conn.Exec(ctx, sql, args...)
	return err
}

func (l poolListener) WaitForNotification(ctx context.Context) (string, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (l poolListener) Release() {
	// The session still LISTENs; do not hand it back to the pool.
	_ = l.conn.Hijack().Close(context.Background())
}

// Listen forwards change notifications to the subscriptions of s until ctx
// ends. A lost connection is re-established with backoff; every subscription
// is refreshed after reconnecting since changes may have been missed.
func (s *Store) Listen(ctx context.Context, acquire Acquirer) error {
	return docstore.FollowFeed(ctx, s.lg, func(ctx context.Context, reconnect bool) error {
		return s.listenOnce(ctx, acquire, reconnect)
	})
}

func (s *Store) listenOnce(ctx context.Context, acquire Acquirer, refresh bool) error {
	l, err := acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire connection")
	}
	defer l.Release()

	if err := l.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return errors.Wrap(err, "listen")
	}
	if refresh {
		s.hub.NotifyAll()
	}
	s.lg.Debug("Listening for document changes", zap.String("channel", Channel))

	for {
		collection, err := l.WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		s.hub.Notify(collection)
	}
}
