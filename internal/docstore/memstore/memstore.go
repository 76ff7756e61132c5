// Package memstore is an in-process docstore.Store used by tests and local
// development.
//
// Every write computes the new result set of each subscription on the
// written collection while holding the store lock, and queues it for that
// subscription's delivery goroutine. Subscribers therefore observe every
// intermediate state, in write order.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/campus-canteen/internal/docstore"
)

type record struct {
	fields    map[string]any
	createdAt time.Time
	updatedAt time.Time
}

// Store keeps documents in memory.
type Store struct {
	now   func() time.Time
	newID func() string

	mu          sync.Mutex
	collections map[string]map[string]*record
	subs        map[*subscription]struct{}
	failNext    error
}

var _ docstore.Store = (*Store)(nil)

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

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		newID:       uuid.NewString,
		collections: make(map[string]map[string]*record),
		subs:        make(map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FailNext makes the next write operation fail with err. It lets tests
// exercise persistence failures.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	doc, err := toDocument(collection, id, rec)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, data any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	now := s.now()
	fields, err := docstore.EncodeFields(data, now)
	if err != nil {
		return err
	}
	coll := s.collection(collection)
	rec, ok := coll[id]
	switch {
	case !ok:
		coll[id] = &record{fields: fields, createdAt: now, updatedAt: now}
	case merge:
		for k, v := range fields {
			rec.fields[k] = v
		}
		rec.updatedAt = now
	default:
		rec.fields = fields
		rec.updatedAt = now
	}
	s.publish(collection)
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, data any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}

	now := s.now()
	fields, err := docstore.EncodeFields(data, now)
	if err != nil {
		return "", err
	}
	id := s.newID()
	s.collection(collection)[id] = &record{fields: fields, createdAt: now, updatedAt: now}
	s.publish(collection)
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	rec, ok := s.collections[collection][id]
	if !ok {
		return docstore.ErrNotFound
	}
	now := s.now()
	patch, err := docstore.EncodeFields(fields, now)
	if err != nil {
		return err
	}
	for k, v := range patch {
		rec.fields[k] = v
	}
	rec.updatedAt = now
	s.publish(collection)
	return nil
}

func (s *Store) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(q)
}

func (s *Store) collection(name string) map[string]*record {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]*record)
		s.collections[name] = coll
	}
	return coll
}

// find must be called with s.mu held.
func (s *Store) find(q docstore.Query) ([]docstore.Document, error) {
	type hit struct {
		id  string
		rec *record
	}
	var hits []hit
	for id, rec := range s.collections[q.Collection] {
		if docstore.Match(rec.fields, q.Filters) {
			hits = append(hits, hit{id: id, rec: rec})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if q.OrderBy != "" {
			c := docstore.Compare(hits[i].rec.fields[q.OrderBy], hits[j].rec.fields[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return hits[i].id < hits[j].id
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	docs := make([]docstore.Document, 0, len(hits))
	for _, h := range hits {
		doc, err := toDocument(q.Collection, h.id, h.rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func toDocument(collection, id string, rec *record) (docstore.Document, error) {
	data, err := json.Marshal(rec.fields)
	if err != nil {
		return docstore.Document{}, errors.Wrapf(err, "encode %s/%s", collection, id)
	}
	return docstore.Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		CreatedAt:  rec.createdAt,
		UpdatedAt:  rec.updatedAt,
	}, nil
}
