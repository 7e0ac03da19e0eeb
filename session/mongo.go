package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollectionName is the collection sessions are kept in
const MongoCollectionName = "sessions"

// SingleResult interface for mocking
type SingleResult interface {
	Decode(v interface{}) error
}

// Collection is the subset of *mongo.Collection the store needs, for mocking
type Collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// mongoCollection adapts *mongo.Collection to Collection
type mongoCollection struct {
	*mongo.Collection
}

func (m *mongoCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult {
	return m.Collection.FindOne(ctx, filter, opts...)
}

// sessionDocument is the stored shape. The payload is kept as a JSON string so
// arbitrary values round-trip the same way they do in the other stores.
type sessionDocument struct {
	ID      string    `bson:"_id"`
	Session string    `bson:"session"`
	Expires time.Time `bson:"expires"`
}

// MongoStore keeps sessions in the application database
type MongoStore struct {
	collection Collection
	now        func() time.Time
}

// NewMongoStore creates a store over the sessions collection of db
func NewMongoStore(db *mongo.Database) *MongoStore {
	return NewMongoStoreWithCollection(&mongoCollection{db.Collection(MongoCollectionName)})
}

// NewMongoStoreWithCollection creates a store over an arbitrary collection
func NewMongoStoreWithCollection(collection Collection) *MongoStore {
	return &MongoStore{collection: collection, now: time.Now}
}

// EnsureTTLIndex creates the index that lets the server reap expired sessions
func EnsureTTLIndex(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(MongoCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_ttl"),
	})
	if err != nil {
		return fmt.Errorf("failed to create session TTL index: %w", err)
	}
	return nil
}

func (ms *MongoStore) Get(ctx context.Context, id string) (map[string]interface{}, error) {
	var doc sessionDocument
	err := ms.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	// the TTL monitor only runs once a minute
	if !doc.Expires.IsZero() && !doc.Expires.After(ms.now()) {
		return nil, ErrNotFound
	}

	var values map[string]interface{}
	if err := json.Unmarshal([]byte(doc.Session), &values); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return values, nil
}

func (ms *MongoStore) Set(ctx context.Context, id string, values map[string]interface{}, ttl time.Duration) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}

	update := bson.M{"$set": bson.M{
		"session": string(data),
		"expires": ms.now().Add(effectiveTTL(ttl)),
	}}
	if _, err := ms.collection.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

func (ms *MongoStore) Destroy(ctx context.Context, id string) error {
	if _, err := ms.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to destroy session %s: %w", id, err)
	}
	return nil
}

func (ms *MongoStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	update := bson.M{"$set": bson.M{"expires": ms.now().Add(effectiveTTL(ttl))}}
	result, err := ms.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; the client belongs to storage.MongoDB
func (ms *MongoStore) Close() error {
	return nil
}
