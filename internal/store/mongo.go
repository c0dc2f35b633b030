package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps records as documents in one collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// OpenMongo connects with a driver pool capped at poolSize and makes sure the
// unique sparse index on document_id exists.
func OpenMongo(ctx context.Context, uri, database, collection string, poolSize int) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(uint64(poolSize)).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("connecting to mongo: %w", err)}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, &Error{Op: "open", Err: fmt.Errorf("pinging mongo: %w", err)}
	}

	s := &MongoStore{client: client, coll: client.Database(database).Collection(collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, &Error{Op: "open", Err: err}
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("document_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("created_at_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return nil
}

// Save replaces the document with the same document_id (inserting it if
// absent), or inserts a new document when rec has no id.
func (s *MongoStore) Save(ctx context.Context, rec *Record) error {
	if rec.DocumentID == "" {
		if _, err := s.coll.InsertOne(ctx, rec); err != nil {
			return &Error{Op: "save", Err: err}
		}
		return nil
	}

	filter := bson.M{"document_id": rec.DocumentID}
	replace := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, filter, rec, replace)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts for a new id raced; the loser now finds the winner's document.
		_, err = s.coll.ReplaceOne(ctx, filter, rec, replace)
	}
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}

// Get returns the record with the given document id, or nil if none exists.
func (s *MongoStore) Get(ctx context.Context, documentID string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"document_id": documentID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get", Err: err}
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first.
func (s *MongoStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	find := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.D{}, find)
	if err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}
	var out []Record
	if err := cursor.All(ctx, &out); err != nil {
		return nil, &Error{Op: "recent", Err: err}
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *MongoStore) Count(ctx context.Context) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return int(n), nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
