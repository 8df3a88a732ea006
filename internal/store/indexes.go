package store

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the hub's hot queries rely on:
// idempotency-key lookups, the retry sweep, transformation rule selection
// and dead-letter filtering.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	targets := map[string][]mongo.IndexModel{
		"integration_messages": {
			{
				Keys:    bson.D{{Key: "idempotency_key", Value: 1}, {Key: "received_at", Value: -1}},
				Options: options.Index().SetName("idx_messages_idempotency_key").SetSparse(true),
			},
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}},
				Options: options.Index().SetName("idx_messages_status_next_retry"),
			},
			{
				Keys:    bson.D{{Key: "received_at", Value: -1}},
				Options: options.Index().SetName("idx_messages_received_at"),
			},
		},
		"integration_transformations": {
			{
				Keys: bson.D{
					{Key: "source_connector", Value: 1},
					{Key: "target_connector", Value: 1},
					{Key: "source_type", Value: 1},
					{Key: "is_active", Value: 1},
					{Key: "priority", Value: -1},
				},
				Options: options.Index().SetName("idx_transformations_lookup"),
			},
		},
		"integration_dead_letters": {
			{
				Keys:    bson.D{{Key: "connector", Value: 1}, {Key: "reason", Value: 1}},
				Options: options.Index().SetName("idx_dead_letters_connector_reason"),
			},
			{
				Keys:    bson.D{{Key: "retryable", Value: 1}, {Key: "reprocessed_at", Value: 1}},
				Options: options.Index().SetName("idx_dead_letters_retryable"),
			},
			{
				Keys:    bson.D{{Key: "original_message_id", Value: 1}},
				Options: options.Index().SetName("idx_dead_letters_original_message"),
			},
		},
	}

	for name, indexes := range targets {
		_, err := db.Collection(name).Indexes().CreateMany(ctx, indexes)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}

	return nil
}
