package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Idempotency remembers scan outcomes keyed by
// (ticketId, scannerId, client attempt id) so a resent scan request returns
// the recorded result instead of redeeming another entry.
type Idempotency struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{
		Client: client,
		Logger: log.Default(),
	}
}

func attemptKey(ticketID, scannerID, attemptID string) string {
	return fmt.Sprintf("scan_attempt:%s:%s:%s", ticketID, scannerID, attemptID)
}

// getAttemptTTL returns how long recorded outcomes are kept. Long enough to
// cover scanner retry storms, short enough to not hoard memory.
func (i *Idempotency) getAttemptTTL() time.Duration {
	defaultTTL := 24 * time.Hour

	ttlStr := os.Getenv("SCAN_ATTEMPT_TTL_HOURS")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlHours, err := strconv.Atoi(ttlStr)
	if err != nil {
		i.Logger.Println("REDIS: Invalid SCAN_ATTEMPT_TTL_HOURS value '" + ttlStr + "', using default 24 hours")
		return defaultTTL
	}
	return time.Duration(ttlHours) * time.Hour
}

// Lookup returns the recorded outcome for the attempt, if any.
func (i *Idempotency) Lookup(ctx context.Context, ticketID, scannerID, attemptID string) ([]byte, bool, error) {
	val, err := i.Client.Get(ctx, attemptKey(ticketID, scannerID, attemptID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Record stores the outcome of a completed attempt. First write wins; a
// concurrent duplicate keeps the already-recorded outcome.
func (i *Idempotency) Record(ctx context.Context, ticketID, scannerID, attemptID string, outcome []byte) error {
	_, err := i.Client.SetNX(ctx, attemptKey(ticketID, scannerID, attemptID), outcome, i.getAttemptTTL()).Result()
	return err
}
