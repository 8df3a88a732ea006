package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hub/pkg/models"
)

type mongoConnectorRepository struct {
	collection *mongo.Collection
}

func NewConnectorRepository(db *mongo.Database) ConnectorRepository {
	return &mongoConnectorRepository{
		collection: db.Collection("integration_connectors"),
	}
}

func (r *mongoConnectorRepository) Get(ctx context.Context, code string) (*models.IntegrationConnector, error) {
	var conn models.IntegrationConnector
	err := r.collection.FindOne(ctx, bson.M{"_id": code}).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connector: %w", err)
	}

	return &conn, nil
}

func (r *mongoConnectorRepository) Create(ctx context.Context, conn *models.IntegrationConnector) error {
	if conn.CircuitState == "" {
		conn.CircuitState = models.CircuitClosed
	}
	if conn.HealthStatus == "" {
		conn.HealthStatus = models.HealthHealthy
	}

	_, err := r.collection.InsertOne(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}

	return nil
}

func (r *mongoConnectorRepository) List(ctx context.Context, activeOnly bool) ([]models.IntegrationConnector, error) {
	query := bson.M{}
	if activeOnly {
		query["is_active"] = true
	}

	cursor, err := r.collection.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer cursor.Close(ctx)

	var connectors []models.IntegrationConnector
	if err := cursor.All(ctx, &connectors); err != nil {
		return nil, fmt.Errorf("failed to decode connectors: %w", err)
	}

	return connectors, nil
}

func (r *mongoConnectorRepository) UpdateHealth(ctx context.Context, code string, status models.HealthStatus, details string, checkedAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"health_status":     status,
		"health_details":    details,
		"last_health_check": checkedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": code}, update)
	if err != nil {
		return fmt.Errorf("failed to update connector health: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("connector not found: %s", code)
	}

	return nil
}

func (r *mongoConnectorRepository) IncrementStats(ctx context.Context, code string, success bool) error {
	inc := bson.M{"total_messages": 1}
	if success {
		inc["successful_messages"] = 1
	} else {
		inc["failed_messages"] = 1
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": code}, bson.M{"$inc": inc})
	if err != nil {
		return fmt.Errorf("failed to increment connector stats: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("connector not found: %s", code)
	}

	return nil
}

// findOneAndUpdate runs a conditional update returning the post-update
// document; nil result without error means the condition did not match.
func (r *mongoConnectorRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.IntegrationConnector, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conn models.IntegrationConnector
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conn)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conditional connector update failed: %w", err)
	}

	return &conn, nil
}

func (r *mongoConnectorRepository) IncrementFailureIfClosed(ctx context.Context, code string) (*models.IntegrationConnector, error) {
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": code, "circuit_state": models.CircuitClosed},
		bson.M{"$inc": bson.M{"failure_count": 1}},
	)
}

func (r *mongoConnectorRepository) IncrementSuccessIfHalfOpen(ctx context.Context, code string) (*models.IntegrationConnector, error) {
	return r.findOneAndUpdate(ctx,
		bson.M{"_id": code, "circuit_state": models.CircuitHalfOpen},
		bson.M{"$inc": bson.M{"success_count": 1}},
	)
}

func (r *mongoConnectorRepository) ResetFailuresIfClosed(ctx context.Context, code string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": code, "circuit_state": models.CircuitClosed},
		bson.M{"$set": bson.M{"failure_count": 0}},
	)
	if err != nil {
		return fmt.Errorf("failed to reset failure count: %w", err)
	}

	return nil
}

func (r *mongoConnectorRepository) TransitionCircuit(ctx context.Context, code string, from, to models.CircuitState, at time.Time) (bool, error) {
	set := bson.M{"circuit_state": to}

	switch to {
	case models.CircuitOpen:
		set["circuit_opened_at"] = at
		set["success_count"] = 0
	case models.CircuitHalfOpen:
		set["half_open_at"] = at
		set["success_count"] = 0
	case models.CircuitClosed:
		set["failure_count"] = 0
		set["success_count"] = 0
		set["circuit_opened_at"] = nil
		set["half_open_at"] = nil
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": code, "circuit_state": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition circuit: %w", err)
	}

	return result.MatchedCount == 1, nil
}

func (r *mongoConnectorRepository) ResetWindow(ctx context.Context, code string, prevStart *time.Time, now time.Time) (bool, error) {
	filter := bson.M{"_id": code}
	if prevStart == nil {
		filter["window_start"] = nil
	} else {
		filter["window_start"] = *prevStart
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"window_start":  now,
		"current_count": 1,
	}})
	if err != nil {
		return false, fmt.Errorf("failed to reset rate limit window: %w", err)
	}

	return result.MatchedCount == 1, nil
}

func (r *mongoConnectorRepository) IncrementWindow(ctx context.Context, code string, start time.Time, limit int) (int, bool, error) {
	conn, err := r.findOneAndUpdate(ctx,
		bson.M{"_id": code, "window_start": start, "current_count": bson.M{"$lt": limit}},
		bson.M{"$inc": bson.M{"current_count": 1}},
	)
	if err != nil {
		return 0, false, err
	}
	if conn == nil {
		return 0, false, nil
	}

	return conn.CurrentCount, true, nil
}
