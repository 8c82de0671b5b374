package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DeliveryLedger records which (endpoint, event) pairs were already delivered
// so a retried task skips endpoints that succeeded last time.
type DeliveryLedger interface {
	// Claim marks key as delivered for ttl. It returns false when the key is
	// already held.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget drops a claim after a failed delivery.
	Forget(ctx context.Context, key string) error
}

// RedisLedger keeps claims as expiring Redis keys. The value is the claim
// time, which helps when inspecting a stuck delivery by hand.
type RedisLedger struct {
	Client redis.Cmdable
}

func (l RedisLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	err := l.Client.SetArgs(ctx, key, time.Now().UTC().Format(time.RFC3339), redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, err
	}
}

func (l RedisLedger) Forget(ctx context.Context, key string) error {
	return l.Client.Del(ctx, key).Err()
}

// MemoryLedger is a process-local DeliveryLedger for tests and single-node
// setups without Redis.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]time.Time
	Now    func() time.Time
}

func (l *MemoryLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.claims == nil {
		l.claims = map[string]time.Time{}
	}
	if until, ok := l.claims[key]; ok && now.Before(until) {
		return false, nil
	}
	l.claims[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Forget(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, key)
	return nil
}
