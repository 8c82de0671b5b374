// Package lock serialises work on a key across API and worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when the key stayed busy for MaxWait.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLeaseLost is returned by Release when the TTL lapsed and the key
	// now belongs to someone else, or to nobody.
	ErrLeaseLost = errors.New("lock: lease lost")
)

// compare-and-delete on the holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out Redis leases. Each lease carries a random token so a
// holder whose TTL lapsed never deletes a successor's key.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds how long Acquire polls a busy key. Zero waits until the
	// context is done.
	MaxWait time.Duration
}

// Lease is a held lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire polls until key is free, then holds it for ttl.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("lock: key is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.MaxWait, fmt.Errorf("%w: %s", ErrNotAcquired, key))
		defer cancel()
	}

	lease := &Lease{client: l.R, key: key, token: uuid.NewString()}
	tick := time.NewTicker(backoff)
	defer tick.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, lease.token, ttl).Result()
		switch {
		case ok:
			return lease, nil
		case err != nil && ctx.Err() == nil:
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-tick.C:
		}
	}
}

// Release deletes the key if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// WithLock runs fn while holding key. The lease is released however fn
// returns; a lost lease is not reported since fn already completed.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()
	return fn(ctx)
}
