//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/campus-canteen/internal/docstore"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := Connect(ctx, uri, "canteen_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })

	s := NewStore(db, zaptest.NewLogger(t))
	require.NoError(t, s.CreateIndexes(ctx))
	return s
}

func TestStore_Documents(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "orders", "missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, "orders", "missing", map[string]any{"status": "accepted"}), docstore.ErrNotFound)

	id, err := s.Add(ctx, "orders", map[string]any{
		"userId":    "u1",
		"status":    "pending",
		"createdAt": docstore.ServerTimestamp,
	})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, "orders", id, map[string]any{"status": "accepted"}))

	doc, err := s.Get(ctx, "orders", id)
	require.NoError(t, err)
	var o struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	require.NoError(t, doc.DataTo(&o))
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "accepted", o.Status)

	require.NoError(t, s.Put(ctx, "canteens", "c1", map[string]any{"name": "North", "isActive": true}, false))
	require.NoError(t, s.Put(ctx, "canteens", "c1", map[string]any{"isActive": false}, true))
	docs, err := s.Find(ctx, docstore.Query{Collection: "canteens"}.Where("isActive", false))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"name":"North","isActive":false}`, string(docs[0].Data))
}

func TestStore_WatchRefreshesSubscriptions(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = s.Watch(ctx) }()

	sizes := make(chan int, 8)
	unsubscribe, err := s.Subscribe(ctx, docstore.Query{Collection: "orders"}.Where("userId", "u1"),
		func(docs []docstore.Document, err error) {
			assert.NoError(t, err)
			sizes <- len(docs)
		})
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, 0, <-sizes)

	// The change stream opens asynchronously; keep writing until it is seen.
	deadline := time.After(30 * time.Second)
	for {
		_, err := s.Add(ctx, "orders", map[string]any{"userId": "u1"})
		require.NoError(t, err)
		select {
		case n := <-sizes:
			assert.Positive(t, n)
			return
		case <-time.After(time.Second):
		case <-deadline:
			t.Fatal("subscription not refreshed")
		}
	}
}
