package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists checkpoint/statistics blobs in a MongoDB
// collection, one document per key. Generalised from the teacher's
// item-sink MongoStorage into a generic key-value store so the same
// driver dependency backs the core's persistence contract instead of
// scraped-item storage.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

type mongoDoc struct {
	Key  string `bson:"_id"`
	Data []byte `bson:"data"`
}

// NewMongoStore connects to uri and targets database.collection for
// key-value documents.
func NewMongoStore(uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongokv: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongokv: ping: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongokv"),
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc mongoDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongokv: get %q: %w", key, err)
	}
	return doc.Data, true, nil
}

func (s *MongoStore) Set(ctx context.Context, key string, data []byte) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, mongoDoc{Key: key, Data: data}, opts)
	if err != nil {
		return fmt.Errorf("mongokv: set %q: %w", key, err)
	}
	return nil
}

// Close disconnects the underlying Mongo client.
func (s *MongoStore) Close(ctx context.Context) error {
	s.logger.Info("mongokv closing")
	return s.client.Disconnect(ctx)
}
