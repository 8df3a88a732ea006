package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hub/pkg/models"
)

type mongoDeadLetterRepository struct {
	collection *mongo.Collection
}

func NewDeadLetterRepository(db *mongo.Database) DeadLetterRepository {
	return &mongoDeadLetterRepository{
		collection: db.Collection("integration_dead_letters"),
	}
}

func (r *mongoDeadLetterRepository) Create(ctx context.Context, dl *models.IntegrationDeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, dl)
	if err != nil {
		return fmt.Errorf("failed to create dead letter: %w", err)
	}

	return nil
}

func (r *mongoDeadLetterRepository) Get(ctx context.Context, id string) (*models.IntegrationDeadLetter, error) {
	var dl models.IntegrationDeadLetter
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&dl)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	return &dl, nil
}

func (r *mongoDeadLetterRepository) Update(ctx context.Context, dl *models.IntegrationDeadLetter) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": dl.ID}, bson.M{"$set": dl})
	if err != nil {
		return fmt.Errorf("failed to update dead letter: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("dead letter not found: %s", dl.ID)
	}

	return nil
}

func deadLetterFilterQuery(filter DeadLetterFilter) bson.M {
	query := bson.M{}
	if filter.Connector != "" {
		query["connector"] = filter.Connector
	}
	if filter.Reason != "" {
		query["reason"] = filter.Reason
	}
	if filter.RetryableOnly {
		query["retryable"] = true
	}
	if filter.NotReprocessed {
		query["reprocessed_at"] = nil
	}
	return query
}

func (r *mongoDeadLetterRepository) List(ctx context.Context, filter DeadLetterFilter) ([]models.IntegrationDeadLetter, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, deadLetterFilterQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var letters []models.IntegrationDeadLetter
	if err := cursor.All(ctx, &letters); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}

	return letters, nil
}

func (r *mongoDeadLetterRepository) Count(ctx context.Context, filter DeadLetterFilter) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, deadLetterFilterQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

func (r *mongoDeadLetterRepository) Stats(ctx context.Context) (*models.DeadLetterStats, error) {
	stats := &models.DeadLetterStats{
		ByConnector: make(map[string]int64),
		ByReason:    make(map[string]int64),
	}

	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	stats.Total = total

	pending, err := r.collection.CountDocuments(ctx, bson.M{"retryable": true, "reprocessed_at": nil})
	if err != nil {
		return nil, fmt.Errorf("failed to count pending dead letters: %w", err)
	}
	stats.RetryablePending = pending

	reprocessed, err := r.collection.CountDocuments(ctx, bson.M{"reprocessed_at": bson.M{"$ne": nil}})
	if err != nil {
		return nil, fmt.Errorf("failed to count reprocessed dead letters: %w", err)
	}
	stats.Reprocessed = reprocessed

	if err := r.aggregateCounts(ctx, "$connector", stats.ByConnector); err != nil {
		return nil, err
	}
	if err := r.aggregateCounts(ctx, "$reason", stats.ByReason); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *mongoDeadLetterRepository) aggregateCounts(ctx context.Context, field string, out map[string]int64) error {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": field, "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("failed to aggregate dead letters by %s: %w", field, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return fmt.Errorf("failed to decode dead letter aggregation: %w", err)
	}

	for _, row := range rows {
		out[row.ID] = row.Count
	}

	return nil
}
