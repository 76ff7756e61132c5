package mongo

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
)

type changeEvent struct {
	DocumentKey struct {
		Key string `bson:"_id"`
	} `bson:"documentKey"`
}

// collectionOf returns the collection part of a document key. Document ids
// never contain a slash; collection paths may.
func collectionOf(key string) string {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return ""
	}
	return key[:i]
}

// Watch follows the change stream of the documents collection and refreshes
// matching subscriptions until ctx ends. Requires a replica set.
func (s *Store) Watch(ctx context.Context) error {
	return docstore.FollowFeed(ctx, s.lg, s.watchOnce)
}

func (s *Store) watchOnce(ctx context.Context, refresh bool) error {
	stream, err := s.coll.Watch(ctx, bson.A{
		bson.D{{Key: "$project", Value: bson.D{{Key: "documentKey", Value: 1}}}},
	})
	if err != nil {
		return errors.Wrap(err, "open change stream")
	}
	defer func() { _ = stream.Close(context.Background()) }()

	if refresh {
		s.hub.NotifyAll()
	}
	s.lg.Debug("Watching document changes", zap.String("collection", CollectionName))

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			s.lg.Warn("Undecodable change event", zap.Error(err))
			s.hub.NotifyAll()
			continue
		}
		if c := collectionOf(ev.DocumentKey.Key); c != "" {
			s.hub.Notify(c)
		} else {
			s.hub.NotifyAll()
		}
	}
	if err := stream.Err(); err != nil {
		return errors.Wrap(err, "change stream")
	}
	return errors.New("change stream closed")
}
