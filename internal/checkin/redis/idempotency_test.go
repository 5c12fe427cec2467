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

func TestLookupMissingAttempt(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	idem := NewIdempotency(client)

	outcome, found, err := idem.Lookup(context.Background(), "t1", "door-7", "attempt-1")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, outcome)
}

func TestRecordAndLookup(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	idem := NewIdempotency(client)
	ctx := context.Background()

	recorded := []byte(`{"status":"ok","ticketId":"t1","usedCount":1,"quantity":2}`)
	err := idem.Record(ctx, "t1", "door-7", "attempt-1", recorded)
	require.NoError(t, err)

	outcome, found, err := idem.Lookup(ctx, "t1", "door-7", "attempt-1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, recorded, outcome)

	// A different attempt id is a different outcome slot
	_, found, err = idem.Lookup(ctx, "t1", "door-7", "attempt-2")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRecordFirstWriteWins(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	idem := NewIdempotency(client)
	ctx := context.Background()

	first := []byte(`{"status":"ok"}`)
	second := []byte(`{"status":"exhausted"}`)

	require.NoError(t, idem.Record(ctx, "t1", "door-7", "attempt-1", first))
	require.NoError(t, idem.Record(ctx, "t1", "door-7", "attempt-1", second))

	outcome, found, err := idem.Lookup(ctx, "t1", "door-7", "attempt-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first, outcome)
}

func TestRecordedOutcomeExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	idem := NewIdempotency(client)
	ctx := context.Background()

	require.NoError(t, idem.Record(ctx, "t1", "door-7", "attempt-1", []byte(`{"status":"ok"}`)))

	ttl := mr.TTL(attemptKey("t1", "door-7", "attempt-1"))
	assert.Equal(t, 24*time.Hour, ttl)

	mr.FastForward(25 * time.Hour)

	_, found, err := idem.Lookup(ctx, "t1", "door-7", "attempt-1")
	assert.NoError(t, err)
	assert.False(t, found)
}
