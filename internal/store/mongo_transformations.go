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

type mongoTransformationRepository struct {
	collection *mongo.Collection
}

func NewTransformationRepository(db *mongo.Database) TransformationRepository {
	return &mongoTransformationRepository{
		collection: db.Collection("integration_transformations"),
	}
}

func (r *mongoTransformationRepository) Create(ctx context.Context, t *models.IntegrationTransformation) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to create transformation: %w", err)
	}

	return nil
}

func (r *mongoTransformationRepository) Get(ctx context.Context, id string) (*models.IntegrationTransformation, error) {
	var t models.IntegrationTransformation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transformation: %w", err)
	}

	return &t, nil
}

func (r *mongoTransformationRepository) List(ctx context.Context) ([]models.IntegrationTransformation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transformations: %w", err)
	}
	defer cursor.Close(ctx)

	var transformations []models.IntegrationTransformation
	if err := cursor.All(ctx, &transformations); err != nil {
		return nil, fmt.Errorf("failed to decode transformations: %w", err)
	}

	return transformations, nil
}

func (r *mongoTransformationRepository) FindBest(ctx context.Context, sourceConnector, targetConnector, sourceType string) (*models.IntegrationTransformation, error) {
	query := bson.M{
		"source_connector": sourceConnector,
		"target_connector": targetConnector,
		"source_type":      sourceType,
		"is_active":        true,
	}
	// Highest priority wins; created_at then id keep ties deterministic.
	opts := options.FindOne().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})

	var t models.IntegrationTransformation
	err := r.collection.FindOne(ctx, query, opts).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transformation: %w", err)
	}

	return &t, nil
}
