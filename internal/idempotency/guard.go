package idempotency

import (
	"context"
	"time"

	"hub/internal/logger"
	"hub/internal/store"
	"hub/pkg/metrics"
	"hub/pkg/models"
)

// Guard deduplicates submissions by idempotency key. The cache answers the
// common case; a miss falls back to the durable message store so
// correctness does not depend on cache availability or locality.
type Guard struct {
	cache    Cache
	messages store.MessageRepository
	hasher   *Hasher
	ttl      time.Duration
	logger   logger.Logger
}

func NewGuard(cache Cache, messages store.MessageRepository, ttl time.Duration, log logger.Logger) *Guard {
	return &Guard{
		cache:    cache,
		messages: messages,
		hasher:   NewHasher("sha256"),
		ttl:      ttl,
		logger:   log,
	}
}

// HashPayload exposes the payload digest; the router stores it on every
// message as processed_hash, key or no key.
func (g *Guard) HashPayload(payload map[string]interface{}) (string, error) {
	return g.hasher.ComputeHash(payload)
}

// Check reports whether a (key, payload) pair has already been accepted.
// A key reused with a different payload hash is allowed through; that is
// deliberate pass-through of caller behavior, logged at Warn so operators
// can alert on it.
func (g *Guard) Check(ctx context.Context, key string, payloadHash string) (models.IdempotencyResult, error) {
	if key == "" {
		return models.IdempotencyResult{}, nil
	}

	entry, err := g.cache.Get(ctx, key)
	if err != nil {
		// Cache trouble is not fatal; the store lookup below decides.
		g.logger.WarnwCtx(ctx, "Idempotency cache read failed, falling back to store",
			"error", err,
		)
	}

	if entry != nil {
		if entry.Hash == payloadHash {
			metrics.IdempotencyChecksTotal.WithLabelValues("duplicate_cache").Inc()
			return models.IdempotencyResult{IsDuplicate: true, ExistingMessageID: entry.MessageID}, nil
		}
		metrics.IdempotencyChecksTotal.WithLabelValues("hash_mismatch").Inc()
		g.logger.WarnwCtx(ctx, "Idempotency key reused with different payload hash",
			"idempotency_key", key,
			"cached_hash", entry.Hash,
			"payload_hash", payloadHash,
		)
		return models.IdempotencyResult{}, nil
	}

	existing, err := g.messages.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return models.IdempotencyResult{}, err
	}

	if existing != nil {
		if existing.ProcessedHash == payloadHash {
			g.warmCache(ctx, key, Entry{Hash: payloadHash, MessageID: existing.ID})
			metrics.IdempotencyChecksTotal.WithLabelValues("duplicate_store").Inc()
			return models.IdempotencyResult{IsDuplicate: true, ExistingMessageID: existing.ID}, nil
		}
		metrics.IdempotencyChecksTotal.WithLabelValues("hash_mismatch").Inc()
		g.logger.WarnwCtx(ctx, "Idempotency key reused with different payload hash",
			"idempotency_key", key,
			"existing_message_id", existing.ID,
		)
		return models.IdempotencyResult{}, nil
	}

	g.warmCache(ctx, key, Entry{Hash: payloadHash})
	metrics.IdempotencyChecksTotal.WithLabelValues("unique").Inc()

	return models.IdempotencyResult{}, nil
}

// Register binds the persisted message id to the cached key so later cache
// hits can short-circuit with the original message id.
func (g *Guard) Register(ctx context.Context, key, payloadHash, messageID string) {
	if key == "" {
		return
	}
	g.warmCache(ctx, key, Entry{Hash: payloadHash, MessageID: messageID})
}

func (g *Guard) warmCache(ctx context.Context, key string, entry Entry) {
	if err := g.cache.Set(ctx, key, entry, g.ttl); err != nil {
		g.logger.WarnwCtx(ctx, "Failed to warm idempotency cache",
			"idempotency_key", key,
			"error", err,
		)
	}
}

// RunCacheSweep evicts expired cache entries. It is an entry point for an
// external ticker, not a loop the guard owns.
func (g *Guard) RunCacheSweep(ctx context.Context) error {
	size, err := g.cache.Sweep(ctx)
	if err != nil {
		return err
	}
	metrics.SetIdempotencyCacheSize(size)

	g.logger.DebugwCtx(ctx, "Idempotency cache sweep complete", "live_entries", size)
	return nil
}
