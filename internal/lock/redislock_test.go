package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roastery-checkout/internal/lock"
)

func newLocker(t *testing.T) (*miniredis.Miniredis, lock.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestConcurrentMaterializersRunOneAtATime(t *testing.T) {
	_, locker := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		runs    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(ctx, "lock:checkout:materialize:demo", time.Second, func(context.Context) error {
				mu.Lock()
				holders++
				runs++
				maxSeen = max(maxSeen, holders)
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("with lock: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, runs)
	require.Equal(t, 1, maxSeen)
}

func TestAcquireGivesUpAfterMaxWait(t *testing.T) {
	mr, locker := newLocker(t)
	require.NoError(t, mr.Set("busy", "someone-else"))
	locker.MaxWait = 30 * time.Millisecond

	called := false
	err := locker.WithLock(context.Background(), "busy", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.False(t, called)
}

func TestAcquireHonoursCallerCancellation(t *testing.T) {
	mr, locker := newLocker(t)
	require.NoError(t, mr.Set("busy", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := locker.Acquire(ctx, "busy", time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseLeavesSuccessorKey(t *testing.T) {
	mr, locker := newLocker(t)
	lease, err := locker.Acquire(context.Background(), "expiring", time.Second)
	require.NoError(t, err)

	// TTL lapses and another process takes the key
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("expiring", "successor"))

	require.ErrorIs(t, lease.Release(context.Background()), lock.ErrLeaseLost)
	val, err := mr.Get("expiring")
	require.NoError(t, err)
	require.Equal(t, "successor", val)
}

func TestWithLockReleasesOnError(t *testing.T) {
	mr, locker := newLocker(t)
	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}
