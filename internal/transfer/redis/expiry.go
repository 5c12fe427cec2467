package redis

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix namespaces the TTL keys that drive the proactive expiry sweep.
// One key per pending transfer; when it expires, the keyspace notification
// tells the service to settle the record. Claims and cancels delete the key.
const KeyPrefix = "transfer_expiry:"

// Expiry arms redis TTL keys for pending transfers. It is a hardening layer:
// claim evaluates expiry lazily, so losing a key costs nothing but staleness.
type Expiry struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewExpiry(client *redis.Client) *Expiry {
	return &Expiry{
		Client: client,
		Logger: log.Default(),
	}
}

// ScheduleExpiry sets the TTL key so it expires when the transfer window
// closes. An already-closed window gets a minimal TTL so the sweep still
// fires.
func (e *Expiry) ScheduleExpiry(ctx context.Context, transferID string, at time.Time) error {
	ttl := time.Until(at)
	if ttl < time.Second {
		ttl = time.Second
	}
	_, err := e.Client.SetNX(ctx, KeyPrefix+transferID, "1", ttl).Result()
	return err
}

// CancelExpiry disarms the sweep after a claim or cancel settled the record.
func (e *Expiry) CancelExpiry(ctx context.Context, transferID string) error {
	_, err := e.Client.Del(ctx, KeyPrefix+transferID).Result()
	return err
}

// TransferIDFromKey extracts the transfer id from an expired key event
// payload. Returns false for unrelated keys.
func TransferIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, KeyPrefix), true
}
