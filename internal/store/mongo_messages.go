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

type mongoMessageRepository struct {
	collection *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		collection: db.Collection("integration_messages"),
	}
}

func (r *mongoMessageRepository) Create(ctx context.Context, msg *models.IntegrationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to create integration message: %w", err)
	}

	return nil
}

func (r *mongoMessageRepository) Get(ctx context.Context, id string) (*models.IntegrationMessage, error) {
	var msg models.IntegrationMessage
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration message: %w", err)
	}

	return &msg, nil
}

func (r *mongoMessageRepository) Update(ctx context.Context, msg *models.IntegrationMessage) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": msg.ID}, bson.M{"$set": msg})
	if err != nil {
		return fmt.Errorf("failed to update integration message: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("integration message not found: %s", msg.ID)
	}

	return nil
}

func messageFilterQuery(filter MessageFilter) bson.M {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Connector != "" {
		query["$or"] = bson.A{
			bson.M{"source_connector": filter.Connector},
			bson.M{"target_connector": filter.Connector},
		}
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	return query
}

func (r *mongoMessageRepository) List(ctx context.Context, filter MessageFilter) ([]models.IntegrationMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, messageFilterQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []models.IntegrationMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode integration messages: %w", err)
	}

	return messages, nil
}

func (r *mongoMessageRepository) Count(ctx context.Context, filter MessageFilter) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, messageFilterQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count integration messages: %w", err)
	}
	return count, nil
}

func (r *mongoMessageRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.IntegrationMessage, error) {
	query := bson.M{
		"idempotency_key": key,
		"status":          bson.M{"$ne": models.StatusFailed},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "received_at", Value: -1}})

	var msg models.IntegrationMessage
	err := r.collection.FindOne(ctx, query, opts).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by idempotency key: %w", err)
	}

	return &msg, nil
}

func (r *mongoMessageRepository) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]models.IntegrationMessage, error) {
	query := bson.M{
		"status":        models.StatusRetrying,
		"next_retry_at": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "next_retry_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find due retries: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []models.IntegrationMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode due retries: %w", err)
	}

	return messages, nil
}
