package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub/internal/idempotency"
	"hub/internal/store"
)

func TestRedisCache_SetGetDelete(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)

	ctx := context.Background()
	cache := idempotency.NewRedisCache(infra.RedisClient)

	entry := idempotency.Entry{Hash: "abc123", MessageID: "msg-1"}
	require.NoError(t, cache.Set(ctx, "key-1", entry, time.Minute))

	got, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.Hash)
	assert.Equal(t, "msg-1", got.MessageID)

	missing, err := cache.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, cache.Delete(ctx, "key-1"))
	got, err = cache.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)

	ctx := context.Background()
	cache := idempotency.NewRedisCache(infra.RedisClient)

	require.NoError(t, cache.Set(ctx, "key-ttl", idempotency.Entry{Hash: "h"}, time.Second))

	got, err := cache.Get(ctx, "key-ttl")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Wait for TTL to expire
	time.Sleep(2 * time.Second)

	got, err = cache.Get(ctx, "key-ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_Sweep(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)

	ctx := context.Background()
	cache := idempotency.NewRedisCache(infra.RedisClient)

	require.NoError(t, cache.Set(ctx, "sweep-1", idempotency.Entry{Hash: "a"}, time.Minute))
	require.NoError(t, cache.Set(ctx, "sweep-2", idempotency.Entry{Hash: "b"}, time.Minute))

	count, err := cache.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGuardWithRedisCache(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)

	ctx := context.Background()
	messages := store.NewMemoryMessageRepository()
	guard := idempotency.NewGuard(idempotency.NewRedisCache(infra.RedisClient), messages, time.Minute, createTestLogger())

	hash, err := guard.HashPayload(map[string]interface{}{"order_id": "O-1"})
	require.NoError(t, err)

	first, err := guard.Check(ctx, "key-1", hash)
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)

	guard.Register(ctx, "key-1", hash, "msg-1")

	second, err := guard.Check(ctx, "key-1", hash)
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, "msg-1", second.ExistingMessageID)

	// Same key, different payload: deliberate pass-through.
	otherHash, err := guard.HashPayload(map[string]interface{}{"order_id": "O-2"})
	require.NoError(t, err)
	third, err := guard.Check(ctx, "key-1", otherHash)
	require.NoError(t, err)
	assert.False(t, third.IsDuplicate)
}
