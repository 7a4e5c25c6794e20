// Package mongo provides a MongoDB implementation of cache.Store.
package mongo

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/mailsweep/cache"
)

// Compile-time check
var _ cache.Store = (*Store)(nil)

// Store implements cache.Store using MongoDB. Message ids are stored as the
// document _id, so upserts are atomic ReplaceOne operations.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       *options
	connected  int32
}

// New creates a MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	return &Store{
		client: client,
		opts:   newOptions(opts...),
	}
}

// Connect pings the server and ensures indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return cache.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: mongo: client is required", cache.ErrStorage)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: mongo ping: %v", cache.ErrStorage, err)
	}

	s.collection = s.client.Database(s.opts.database).Collection(s.opts.collection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "sender_email", Value: 1}}},
		{Keys: bson.D{bson.E{Key: "received_at", Value: -1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: ensure indexes: %v", cache.ErrStorage, err)
	}

	s.opts.logger.Info("connected to MongoDB cache",
		"database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return cache.ErrNotConnected
	}
	return nil
}

// Upsert writes the records with a single bulk write of upserting replaces.
func (s *Store) Upsert(ctx context.Context, records []cache.Record) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	models := make([]mongo.WriteModel, len(records))
	for i, r := range records {
		r.ReceivedAt = r.ReceivedAt.UTC()
		r.FetchedAt = r.FetchedAt.UTC()
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.ID}).
			SetReplacement(r).
			SetUpsert(true)
	}

	if _, err := s.collection.BulkWrite(ctx, models, mongoopts.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("%w: bulk upsert: %v", cache.ErrStorage, err)
	}
	return nil
}

// All returns an iterator paging through the collection with keyset queries
// on _id.
func (s *Store) All(_ context.Context) (cache.Iterator, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, afterID string, limit int) ([]cache.Record, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()

		filter := bson.M{"_id": bson.M{"$gt": afterID}}
		opts := mongoopts.Find().
			SetSort(bson.D{bson.E{Key: "_id", Value: 1}}).
			SetLimit(int64(limit))

		cur, err := s.collection.Find(ctx, filter, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: find messages: %v", cache.ErrStorage, err)
		}
		defer cur.Close(ctx)

		var batch []cache.Record
		if err := cur.All(ctx, &batch); err != nil {
			return nil, fmt.Errorf("%w: decode messages: %v", cache.ErrStorage, err)
		}
		for i := range batch {
			batch[i].ReceivedAt = batch[i].ReceivedAt.UTC()
			batch[i].FetchedAt = batch[i].FetchedAt.UTC()
		}
		return batch, nil
	}
	return cache.NewBatchIterator(fetch, s.opts.batchSize), nil
}

// Remove deletes the given ids.
func (s *Store) Remove(ctx context.Context, ids []string) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("%w: delete messages: %v", cache.ErrStorage, err)
	}
	return int(res.DeletedCount), nil
}

// Clear empties the collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("%w: clear messages: %v", cache.ErrStorage, err)
	}
	return nil
}

// Count returns the number of cached records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	n, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("%w: count messages: %v", cache.ErrStorage, err)
	}
	return int(n), nil
}
