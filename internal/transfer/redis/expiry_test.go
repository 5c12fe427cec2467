package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client using miniredis for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	return client, mr
}

func cleanupTestRedis(client *redis.Client, mr *miniredis.Miniredis) {
	if client != nil {
		client.Close()
	}
	if mr != nil {
		mr.Close()
	}
}

func TestScheduleExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	expiry := NewExpiry(client)
	ctx := context.Background()

	err := expiry.ScheduleExpiry(ctx, "transfer-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, mr.Exists(KeyPrefix+"transfer-1"))
	ttl := mr.TTL(KeyPrefix + "transfer-1")
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2)
}

func TestScheduleExpiryPastDeadline(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	expiry := NewExpiry(client)

	// An already-closed window still arms the key so the sweep fires
	err := expiry.ScheduleExpiry(context.Background(), "transfer-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.True(t, mr.Exists(KeyPrefix + "transfer-1"))
	ttl := mr.TTL(KeyPrefix + "transfer-1")
	assert.Greater(t, ttl, time.Duration(0))

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists(KeyPrefix+"transfer-1"))
}

func TestCancelExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	expiry := NewExpiry(client)
	ctx := context.Background()

	require.NoError(t, expiry.ScheduleExpiry(ctx, "transfer-1", time.Now().Add(time.Hour)))
	require.NoError(t, expiry.CancelExpiry(ctx, "transfer-1"))

	assert.False(t, mr.Exists(KeyPrefix+"transfer-1"))

	// Disarming an unknown transfer is a no-op
	assert.NoError(t, expiry.CancelExpiry(ctx, "transfer-2"))
}

func TestTransferIDFromKey(t *testing.T) {
	id, ok := TransferIDFromKey(KeyPrefix + "transfer-1")
	assert.True(t, ok)
	assert.Equal(t, "transfer-1", id)

	_, ok = TransferIDFromKey("seat_lock:transfer-1")
	assert.False(t, ok)

	_, ok = TransferIDFromKey("")
	assert.False(t, ok)
}
