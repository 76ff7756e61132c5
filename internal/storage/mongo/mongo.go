// Package mongo stores documents in a single MongoDB collection and feeds
// live queries from a change stream.
package mongo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
)

// CollectionName is the MongoDB collection holding every document.
const CollectionName = "documents"

// Connect opens a client and returns database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongodb")
	}
	return client.Database(database), nil
}

// record is the stored shape of a document.
type record struct {
	Key        string    `bson:"_id"`
	Collection string    `bson:"collection"`
	ID         string    `bson:"docId"`
	Data       bson.Raw  `bson:"data"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func key(collection, id string) string {
	return collection + "/" + id
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to resolve server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements docstore.Store on MongoDB.
type Store struct {
	coll  *mongo.Collection
	now   func() time.Time
	newID func() string
	hub   *docstore.Hub
	lg    *zap.Logger
}

var _ docstore.Store = (*Store)(nil)

func NewStore(db *mongo.Database, lg *zap.Logger, opts ...Option) *Store {
	s := &Store{
		coll:  db.Collection(CollectionName),
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

// CreateIndexes creates the indexes used by order and key lookups.
func (s *Store) CreateIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "data.userId", Value: 1}}},
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "data.canteenId", Value: 1}}},
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "data.keyHash", Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "create indexes")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key(collection, id)}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%s", collection, id)
	}
	doc, err := toDocument(rec)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, data any, merge bool) error {
	now := s.now().UTC()
	body, err := docstore.Encode(data, now)
	if err != nil {
		return err
	}
	set, err := setData(body, merge)
	if err != nil {
		return err
	}
	set = append(set, bson.E{Key: "updatedAt", Value: now})

	_, err = s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key(collection, id)}},
		bson.D{
			{Key: "$set", Value: set},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "collection", Value: collection},
				{Key: "docId", Value: id},
				{Key: "createdAt", Value: now},
			}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
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
	raw, err := toBSON(body)
	if err != nil {
		return "", err
	}
	id := s.newID()
	if _, err := s.coll.InsertOne(ctx, record{
		Key:        key(collection, id),
		Collection: collection,
		ID:         id,
		Data:       raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return "", errors.Wrapf(err, "add to %s", collection)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	now := s.now().UTC()
	body, err := docstore.Encode(fields, now)
	if err != nil {
		return err
	}
	set, err := setData(body, true)
	if err != nil {
		return err
	}
	set = append(set, bson.E{Key: "updatedAt", Value: now})

	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key(collection, id)}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return errors.Wrapf(err, "update %s/%s", collection, id)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	filter, opts, err := buildFind(q)
	if err != nil {
		return nil, err
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "find in %s", q.Collection)
	}
	var recs []record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, errors.Wrapf(err, "read %s", q.Collection)
	}
	docs := make([]docstore.Document, 0, len(recs))
	for _, rec := range recs {
		doc, err := toDocument(rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func buildFind(q docstore.Query) (bson.D, *options.FindOptions, error) {
	filter := bson.D{{Key: "collection", Value: q.Collection}}
	for _, f := range q.Filters {
		v, err := toBSONValue(f.Value)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "encode filter %s", f.Field)
		}
		filter = append(filter, bson.E{Key: "data." + f.Field, Value: v})
	}

	var sort bson.D
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: "data." + q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: "docId", Value: 1})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return filter, opts, nil
}

// Subscribe implements docstore.Store. Snapshots are refreshed by Watch.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, q, fn)
}

// Ping checks the connection to the primary.
func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// toBSON converts a JSON object to BSON. Numbers keep the relaxed Extended
// JSON types: integers become int32 or int64, the rest doubles.
func toBSON(body json.RawMessage) (bson.Raw, error) {
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(body, false, &raw); err != nil {
		return nil, errors.Wrap(err, "convert document to bson")
	}
	return raw, nil
}

func toBSONValue(v any) (any, error) {
	body, err := json.Marshal(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.UnmarshalExtJSON(body, false, &m); err != nil {
		return nil, err
	}
	return m["v"], nil
}

func fromBSON(raw bson.Raw) (json.RawMessage, error) {
	out, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "convert document to json")
	}
	return out, nil
}

// setData builds the $set entries that write body: the whole data field, or
// each top-level field when merging.
func setData(body json.RawMessage, merge bool) (bson.D, error) {
	raw, err := toBSON(body)
	if err != nil {
		return nil, err
	}
	if !merge {
		return bson.D{{Key: "data", Value: raw}}, nil
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, errors.Wrap(err, "read document fields")
	}
	set := make(bson.D, 0, len(elems))
	for _, e := range elems {
		set = append(set, bson.E{Key: "data." + e.Key(), Value: e.Value()})
	}
	return set, nil
}

func toDocument(rec record) (docstore.Document, error) {
	data, err := fromBSON(rec.Data)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{
		Collection: rec.Collection,
		ID:         rec.ID,
		Data:       data,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}
