package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
)

// DB matches the methods of *pgxpool.Pool used by Store, so tests can use
// pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	getDocumentSQL = `SELECT data, created_at, updated_at
		FROM documents WHERE collection = $1 AND id = $2`

	insertDocumentSQL = `INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`

	replaceDocumentSQL = insertDocumentSQL + `
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	mergeDocumentSQL = insertDocumentSQL + `
		ON CONFLICT (collection, id) DO UPDATE
		SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	updateDocumentSQL = `UPDATE documents SET data = data || $3, updated_at = $4
		WHERE collection = $1 AND id = $2`

	findDocumentsSQL = `SELECT id, data, created_at, updated_at
		FROM documents WHERE collection = $1`
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to resolve server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the generator of ids assigned by Add.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Store implements docstore.Store over the documents table.
type Store struct {
	db    DB
	now   func() time.Time
	newID func() string
	hub   *docstore.Hub
	lg    *zap.Logger
}

var _ docstore.Store = (*Store)(nil)

func NewStore(db DB, lg *zap.Logger, opts ...Option) *Store {
	s := &Store{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
		lg:    lg,
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = docstore.NewHub(s.Find, lg)
	return s
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	doc := docstore.Document{Collection: collection, ID: id}
	err := s.db.QueryRow(ctx, getDocumentSQL, collection, id).Scan(&doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", collection, id)
	}
	return &doc, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, data any, merge bool) error {
	now := s.now().UTC()
	body, err := docstore.Encode(data, now)
	if err != nil {
		return err
	}
	sql := replaceDocumentSQL
	if merge {
		sql = mergeDocumentSQL
	}
	if _, err := s.db.Exec(ctx, sql, collection, id, body, now); err != nil {
		return errors.Wrapf(err, "put %s/%s", collection, id)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, data any) (string, error) {
	now := s.now().UTC()
	body, err := docstore.Encode(data, now)
	if err != nil {
		return "", err
	}
	id := s.newID()
	if _, err := s.db.Exec(ctx, insertDocumentSQL, collection, id, body, now); err != nil {
		return "", errors.Wrapf(err, "add to %s", collection)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	now := s.now().UTC()
	patch, err := docstore.Encode(fields, now)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, updateDocumentSQL, collection, id, patch, now)
	if err != nil {
		return errors.Wrapf(err, "update %s/%s", collection, id)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// Find runs q. Filters compare the JSONB value of a top-level field; ties in
// the sort order are broken by id.
func (s *Store) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildFind(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "find in %s", q.Collection)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		doc := docstore.Document{Collection: q.Collection}
		err := row.Scan(&doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
		return doc, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", q.Collection)
	}
	return docs, nil
}

func buildFind(q docstore.Query) (string, []any, error) {
	var b strings.Builder
	b.WriteString(findDocumentsSQL)
	args := []any{q.Collection}
	param := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	for _, f := range q.Filters {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, errors.Wrapf(err, "encode filter %s", f.Field)
		}
		b.WriteString(" AND data -> ")
		b.WriteString(param(f.Field))
		b.WriteString(" = ")
		b.WriteString(param(string(value)))
		b.WriteString("::jsonb")
	}

	b.WriteString(" ORDER BY ")
	if q.OrderBy != "" {
		b.WriteString("data -> ")
		b.WriteString(param(q.OrderBy))
		if q.Desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", ")
	}
	b.WriteString("id")

	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(param(q.Limit))
	}
	return b.String(), args, nil
}

// Subscribe implements docstore.Store. Snapshots are refreshed when Listen
// receives a change notification for the collection.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, q, fn)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}
