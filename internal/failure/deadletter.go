package failure

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"leadflow/internal/constants"
	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// DeadLetterStore persists terminal failure records. Records are kept
// until an operator resolves them; Resolve is an audit action and never
// re-enqueues anything.
type DeadLetterStore interface {
	Insert(ctx context.Context, record models.DeadLetterRecord) error
	Get(ctx context.Context, id string) (models.DeadLetterRecord, error)
	List(ctx context.Context, tenantID string, limit, offset int64) ([]models.DeadLetterRecord, error)
	Count(ctx context.Context, tenantID string) (int64, error)
	Resolve(ctx context.Context, id, resolvedBy, reason string, at time.Time) error
}

type MongoDeadLetterStore struct {
	collection *mongo.Collection
}

func NewDeadLetterStore(db *mongo.Database) DeadLetterStore {
	return &MongoDeadLetterStore{
		collection: db.Collection(constants.DeadLetterCollection),
	}
}

func (s *MongoDeadLetterStore) Insert(ctx context.Context, record models.DeadLetterRecord) error {
	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert dead-letter record: %w", err)
	}
	return nil
}

func (s *MongoDeadLetterStore) Get(ctx context.Context, id string) (models.DeadLetterRecord, error) {
	var record models.DeadLetterRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.DeadLetterRecord{}, errors.ErrNotFound
		}
		return models.DeadLetterRecord{}, fmt.Errorf("failed to find dead-letter record: %w", err)
	}
	return record, nil
}

func (s *MongoDeadLetterStore) List(ctx context.Context, tenantID string, limit, offset int64) ([]models.DeadLetterRecord, error) {
	filter := bson.M{}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "entered_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.DeadLetterRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode dead-letter records: %w", err)
	}
	return records, nil
}

func (s *MongoDeadLetterStore) Count(ctx context.Context, tenantID string) (int64, error) {
	filter := bson.M{}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}

	count, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead-letter records: %w", err)
	}
	return count, nil
}

func (s *MongoDeadLetterStore) Resolve(ctx context.Context, id, resolvedBy, reason string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"resolved":       true,
		"resolved_by":    resolvedBy,
		"resolved_at":    at,
		"resolve_reason": reason,
	}}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to resolve dead-letter record: %w", err)
	}
	if res.MatchedCount == 0 {
		return errors.ErrNotFound
	}
	return nil
}
