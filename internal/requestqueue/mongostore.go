package requestqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/webstalk/corecrawl/internal/request"
)

// MongoBackingStore persists queued requests in a MongoDB collection,
// generalising the teacher's internal/storage/database.go MongoStorage
// (an item sink keyed by insertion order) into a request sink keyed by
// unique-key hash with an upsert-based add, a sequence counter for
// FIFO/forefront ordering, and a handled flag queried by GetHead.
//
// Because a replica set may serve GetHead from a secondary, this store
// makes no linearizability promise — RequestQueue compensates with
// in_progress/recently_handled tracking and the consistency-repeat
// loop in queue.go.
type MongoBackingStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
	seq        int64
}

type mongoRequestDoc struct {
	ID        string `bson:"_id"`
	KeyHash   string `bson:"key_hash"`
	Seq       int64  `bson:"seq"`
	Handled   bool   `bson:"handled"`
	Payload   []byte `bson:"payload"` // JSON-encoded request.Request
}

// NewMongoBackingStore connects to uri and targets database.collection.
func NewMongoBackingStore(uri, database, collection string, logger *slog.Logger) (*MongoBackingStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongoqueuestore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongoqueuestore: ping: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MongoBackingStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongoqueuestore"),
	}, nil
}

func encodeRequest(r *request.Request) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRequest(data []byte) (*request.Request, error) {
	var r request.Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MongoBackingStore) GetHead(ctx context.Context, limit int) (HeadResult, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.collection.Find(ctx, bson.M{"handled": false}, findOpts)
	if err != nil {
		return HeadResult{}, fmt.Errorf("%w: get head: %v", ErrBackingStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	var items []HeadItem
	for cur.Next(ctx) {
		var doc mongoRequestDoc
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		items = append(items, HeadItem{ID: doc.ID, UniqueKey: doc.KeyHash})
	}

	return HeadResult{
		Items:              items,
		QueueModifiedAt:    time.Now(),
		HadMultipleClients: true, // a shared Mongo collection is the multi-client case
	}, nil
}

func (s *MongoBackingStore) AddRequest(ctx context.Context, r *request.Request, forefront bool) (AddResult, error) {
	if r.ID() != "" {
		return AddResult{}, ErrRequestAlreadyHasID
	}

	hash := hashUniqueKey(r.UniqueKey)

	var existing mongoRequestDoc
	err := s.collection.FindOne(ctx, bson.M{"key_hash": hash}).Decode(&existing)
	if err == nil {
		return AddResult{ID: existing.ID, WasAlreadyPresent: true, WasAlreadyHandled: existing.Handled}, nil
	}
	if err != mongo.ErrNoDocuments {
		return AddResult{}, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}

	id := hash
	r.SetID(id)
	payload, err := encodeRequest(r)
	if err != nil {
		return AddResult{}, fmt.Errorf("mongoqueuestore: encode: %w", err)
	}

	seq := s.nextSeq(forefront)
	_, err = s.collection.InsertOne(ctx, mongoRequestDoc{
		ID: id, KeyHash: hash, Seq: seq, Handled: false, Payload: payload,
	})
	if err != nil {
		return AddResult{}, fmt.Errorf("%w: insert: %v", ErrBackingStoreUnavailable, err)
	}

	return AddResult{ID: id}, nil
}

// nextSeq returns a monotonically decreasing sequence for forefront
// inserts (so they sort before existing entries) or increasing for
// back inserts.
func (s *MongoBackingStore) nextSeq(forefront bool) int64 {
	s.seq++
	if forefront {
		return -s.seq
	}
	return s.seq
}

func (s *MongoBackingStore) GetRequest(ctx context.Context, id string) (*request.Request, bool, error) {
	var doc mongoRequestDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get request: %v", ErrBackingStoreUnavailable, err)
	}
	r, err := decodeRequest(doc.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("mongoqueuestore: decode: %w", err)
	}
	r.SetID(doc.ID)
	return r, true, nil
}

func (s *MongoBackingStore) UpdateRequest(ctx context.Context, r *request.Request, forefront bool) error {
	payload, err := encodeRequest(r)
	if err != nil {
		return fmt.Errorf("mongoqueuestore: encode: %w", err)
	}

	update := bson.M{"$set": bson.M{"payload": payload, "handled": r.IsHandled()}}
	if forefront {
		update["$set"].(bson.M)["seq"] = s.nextSeq(true)
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": r.ID()}, update)
	if err != nil {
		return fmt.Errorf("%w: update: %v", ErrBackingStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotInProgress
	}
	return nil
}

func (s *MongoBackingStore) DeleteQueue(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("%w: delete queue: %v", ErrBackingStoreUnavailable, err)
	}
	return nil
}

func (s *MongoBackingStore) GetQueueInfo(ctx context.Context) (QueueInfo, error) {
	total, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return QueueInfo{}, fmt.Errorf("%w: count: %v", ErrBackingStoreUnavailable, err)
	}
	handled, err := s.collection.CountDocuments(ctx, bson.M{"handled": true})
	if err != nil {
		return QueueInfo{}, fmt.Errorf("%w: count handled: %v", ErrBackingStoreUnavailable, err)
	}
	return QueueInfo{
		HadMultipleClients:  true,
		TotalRequestCount:   total,
		HandledRequestCount: handled,
	}, nil
}

// Close disconnects the underlying Mongo client.
func (s *MongoBackingStore) Close(ctx context.Context) error {
	s.logger.Info("mongoqueuestore closing")
	return s.client.Disconnect(ctx)
}
