package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeSingleResult implements SingleResult
type fakeSingleResult struct {
	doc *sessionDocument
	err error
}

func (r *fakeSingleResult) Decode(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(v.(*sessionDocument)) = *r.doc
	return nil
}

// fakeCollection is an in-memory Collection keyed by _id
type fakeCollection struct {
	mu      sync.Mutex
	docs    map[string]sessionDocument
	failAll error
	upserts []bool
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]sessionDocument)}
}

func filterID(filter interface{}) string {
	return filter.(bson.M)["_id"].(string)
}

func (c *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return &fakeSingleResult{err: c.failAll}
	}
	doc, ok := c.docs[filterID(filter)]
	if !ok {
		return &fakeSingleResult{err: mongo.ErrNoDocuments}
	}
	return &fakeSingleResult{doc: &doc}
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return nil, c.failAll
	}
	id := filterID(filter)
	upsert := false
	for _, o := range opts {
		if o.Upsert != nil && *o.Upsert {
			upsert = true
		}
	}
	c.upserts = append(c.upserts, upsert)

	doc, exists := c.docs[id]
	if !exists && !upsert {
		return &mongo.UpdateResult{}, nil
	}
	set := update.(bson.M)["$set"].(bson.M)
	doc.ID = id
	if s, ok := set["session"].(string); ok {
		doc.Session = s
	}
	if e, ok := set["expires"].(time.Time); ok {
		doc.Expires = e
	}
	c.docs[id] = doc
	if exists {
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: id}, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return nil, c.failAll
	}
	id := filterID(filter)
	if _, ok := c.docs[id]; !ok {
		return &mongo.DeleteResult{}, nil
	}
	delete(c.docs, id)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func newTestMongoStore() (*MongoStore, *fakeCollection, *time.Time) {
	coll := newFakeCollection()
	store := NewMongoStoreWithCollection(coll)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, coll, &now
}

func TestMongoStore_SetGet(t *testing.T) {
	store, coll, now := newTestMongoStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "abc", map[string]interface{}{"username": "ada"}, time.Hour))

	doc := coll.docs["abc"]
	assert.JSONEq(t, `{"username":"ada"}`, doc.Session)
	assert.Equal(t, now.Add(time.Hour), doc.Expires)
	assert.Equal(t, []bool{true}, coll.upserts, "Set must upsert")

	values, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "ada", values["username"])
}

func TestMongoStore_GetExpired(t *testing.T) {
	store, _, now := newTestMongoStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "abc", map[string]interface{}{}, time.Minute))
	*now = now.Add(time.Minute)

	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound, "expired documents awaiting the TTL monitor are not returned")
}

func TestMongoStore_NotFound(t *testing.T) {
	store, _, _ := newTestMongoStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Touch(ctx, "missing", time.Minute), ErrNotFound)
}

func TestMongoStore_Touch(t *testing.T) {
	store, coll, now := newTestMongoStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "abc", map[string]interface{}{"k": "v"}, time.Minute))
	*now = now.Add(30 * time.Second)

	require.NoError(t, store.Touch(ctx, "abc", time.Hour))
	assert.Equal(t, now.Add(time.Hour), coll.docs["abc"].Expires)
	assert.JSONEq(t, `{"k":"v"}`, coll.docs["abc"].Session, "touch must not rewrite the payload")
	assert.Equal(t, []bool{true, false}, coll.upserts, "touch must not upsert")
}

func TestMongoStore_Destroy(t *testing.T) {
	store, coll, _ := newTestMongoStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "abc", map[string]interface{}{}, 0))
	require.NoError(t, store.Destroy(ctx, "abc"))
	assert.Empty(t, coll.docs)
	assert.NoError(t, store.Destroy(ctx, "abc"))
}

func TestMongoStore_Errors(t *testing.T) {
	store, coll, _ := newTestMongoStore()
	ctx := context.Background()
	coll.failAll = errors.New("server selection timeout")

	_, err := store.Get(ctx, "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, store.Set(ctx, "abc", map[string]interface{}{}, 0))
	assert.Error(t, store.Touch(ctx, "abc", 0))
	assert.Error(t, store.Destroy(ctx, "abc"))
	assert.NoError(t, store.Close())
}

func TestMongoStore_CorruptPayload(t *testing.T) {
	store, coll, now := newTestMongoStore()
	coll.docs["abc"] = sessionDocument{ID: "abc", Session: "{oops", Expires: now.Add(time.Hour)}

	_, err := store.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode session")
}
