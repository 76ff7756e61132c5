package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/order"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := NewStore(mock, zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { return "doc-1" }),
	)
	return s, mock
}

func TestStore_Get(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(getDocumentSQL)).
		WithArgs("orders", "o1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "created_at", "updated_at"}).
			AddRow(json.RawMessage(`{"status":"pending"}`), testNow, testNow))
	mock.ExpectQuery(regexp.QuoteMeta(getDocumentSQL)).
		WithArgs("orders", "missing").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.Get(ctx, "orders", "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", doc.ID)
	assert.Equal(t, "orders", doc.Collection)
	assert.JSONEq(t, `{"status":"pending"}`, string(doc.Data))

	_, err = s.Get(ctx, "orders", "missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Writes(t *testing.T) {
	stamp := docstore.FormatTime(testNow)

	tests := []struct {
		name   string
		expect func(mock pgxmock.PgxPoolIface)
		run    func(s *Store) error
	}{
		{
			name: "put replaces",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta(replaceDocumentSQL)).
					WithArgs("users/u1/cart", "items",
						json.RawMessage(`{"items":[],"updatedAt":"`+stamp+`"}`), testNow).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			run: func(s *Store) error {
				return s.Put(context.Background(), "users/u1/cart", "items", map[string]any{
					"items":     []any{},
					"updatedAt": docstore.ServerTimestamp,
				}, false)
			},
		},
		{
			name: "put merges",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta(mergeDocumentSQL)).
					WithArgs("canteens", "c1", json.RawMessage(`{"isActive":false}`), testNow).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			run: func(s *Store) error {
				return s.Put(context.Background(), "canteens", "c1", map[string]any{"isActive": false}, true)
			},
		},
		{
			name: "add assigns id",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta(insertDocumentSQL)).
					WithArgs("orders", "doc-1", json.RawMessage(`{"createdAt":"`+stamp+`","total":"22"}`), testNow).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			run: func(s *Store) error {
				id, err := s.Add(context.Background(), "orders", map[string]any{
					"total":     decimal.NewFromInt(22),
					"createdAt": docstore.ServerTimestamp,
				})
				if err == nil && id != "doc-1" {
					return errors.Errorf("unexpected id %q", id)
				}
				return err
			},
		},
		{
			name: "update patches",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(regexp.QuoteMeta(updateDocumentSQL)).
					WithArgs("orders", "o1", json.RawMessage(`{"status":"accepted","updatedAt":"`+stamp+`"}`), testNow).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
			run: func(s *Store) error {
				return s.Update(context.Background(), "orders", "o1", map[string]any{
					"status":    "accepted",
					"updatedAt": docstore.ServerTimestamp,
				})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.expect(mock)
			require.NoError(t, tt.run(s))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(updateDocumentSQL)).
		WithArgs("orders", "nope", pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.Update(context.Background(), "orders", "nope", map[string]any{"status": "accepted"})
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStore_WriteFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(insertDocumentSQL)).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Add(context.Background(), "orders", map[string]any{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add to orders")
}

func TestStore_RejectsNonObject(t *testing.T) {
	s, mock := newMockStore(t)
	require.Error(t, s.Put(context.Background(), "c", "id", []int{1}, false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildFind(t *testing.T) {
	tests := []struct {
		name string
		q    docstore.Query
		sql  string
		args []any
	}{
		{
			name: "collection only",
			q:    docstore.Query{Collection: "canteens"},
			sql:  findDocumentsSQL + " ORDER BY id",
			args: []any{"canteens"},
		},
		{
			name: "filters sort and limit",
			q: docstore.Query{Collection: "orders", Limit: 10}.
				Where("userId", "u1").
				Where("isPaid", true).
				SortBy("createdAt", true),
			sql: findDocumentsSQL +
				" AND data -> $2 = $3::jsonb AND data -> $4 = $5::jsonb" +
				" ORDER BY data -> $6 DESC, id LIMIT $7",
			args: []any{"orders", "userId", `"u1"`, "isPaid", "true", "createdAt", 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildFind(tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestStore_Find(t *testing.T) {
	s, mock := newMockStore(t)
	q := docstore.Query{Collection: "orders"}.Where("userId", "u1")

	mock.ExpectQuery(regexp.QuoteMeta(findDocumentsSQL)).
		WithArgs("orders", "userId", `"u1"`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data", "created_at", "updated_at"}).
			AddRow("o1", json.RawMessage(`{"userId":"u1"}`), testNow, testNow).
			AddRow("o2", json.RawMessage(`{"userId":"u1"}`), testNow, testNow))

	docs, err := s.Find(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "o2", docs[1].ID)
	assert.Equal(t, "orders", docs[1].Collection)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CanteenStats(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(canteenStatsSQL)).
		WithArgs(order.Collection, "c1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "sum"}).
			AddRow(order.StatusPending, int64(2), decimal.RequireFromString("44.00")).
			AddRow(order.StatusCompleted, int64(1), decimal.RequireFromString("11.00")).
			AddRow(order.StatusRejected, int64(3), decimal.RequireFromString("30.00")))

	st, err := s.CanteenStats(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 6, st.Orders)
	assert.Equal(t, 3, st.ByStatus[order.StatusRejected])
	assert.True(t, decimal.RequireFromString("55.00").Equal(st.Revenue), st.Revenue.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

// --- Listener ---

type fakeListener struct {
	notifications chan string
	execs         []string
	released      chan struct{}
}

func (f *fakeListener) Exec(_ context.Context, sql string, _ ...any) error {
	f.execs = append(f.execs, sql)
	return nil
}

func (f *fakeListener) WaitForNotification(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case c := <-f.notifications:
		return c, nil
	}
}

func (f *fakeListener) Release() { close(f.released) }

func TestStore_ListenRefreshesSubscriptions(t *testing.T) {
	s, mock := newMockStore(t)
	mock.MatchExpectationsInOrder(false)
	rows := func(ids ...string) *pgxmock.Rows {
		r := pgxmock.NewRows([]string{"id", "data", "created_at", "updated_at"})
		for _, id := range ids {
			r.AddRow(id, json.RawMessage(`{}`), testNow, testNow)
		}
		return r
	}
	mock.ExpectQuery(regexp.QuoteMeta(findDocumentsSQL)).WithArgs("orders").WillReturnRows(rows())
	mock.ExpectQuery(regexp.QuoteMeta(findDocumentsSQL)).WithArgs("orders").WillReturnRows(rows("o1"))

	l := &fakeListener{notifications: make(chan string), released: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		sizes []int
	)
	got := make(chan struct{}, 4)
	unsubscribe, err := s.Subscribe(ctx, docstore.Query{Collection: "orders"}, func(docs []docstore.Document, err error) {
		assert.NoError(t, err)
		mu.Lock()
		sizes = append(sizes, len(docs))
		mu.Unlock()
		got <- struct{}{}
	})
	require.NoError(t, err)
	defer unsubscribe()
	<-got

	done := make(chan error, 1)
	go func() {
		done <- s.Listen(ctx, func(context.Context) (Listener, error) { return l, nil })
	}()

	l.notifications <- "canteens"
	l.notifications <- "orders"
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("subscription not refreshed")
	}

	cancel()
	require.NoError(t, <-done)
	<-l.released
	assert.Equal(t, []string{`LISTEN "documents"`}, l.execs)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, sizes)
}
