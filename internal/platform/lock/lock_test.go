package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedisLocker(t, time.Minute)

	release, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"2025-03"))

	_, err = l.Acquire(ctx, "2025-03")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"2025-03"))

	release, err = l.Acquire(ctx, "2025-03")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLocker_DifferentKeys(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedisLocker(t, time.Minute)

	_, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "2025-04")
	assert.NoError(t, err)
}

func TestRedisLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedisLocker(t, 10*time.Second)

	stale, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	fresh, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err)

	// The expired holder must not delete the new holder's key.
	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists(keyPrefix+"2025-03"))

	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists(keyPrefix+"2025-03"))
}

func TestRedisLocker_TTLSet(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedisLocker(t, 90*time.Second)

	_, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, mr.TTL(keyPrefix+"2025-03"))
}

func TestRedisLocker_ServerDown(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedisLocker(t, time.Minute)
	mr.Close()

	_, err := l.Acquire(ctx, "2025-03")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestNewRedisLockerFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	l, err := NewRedisLockerFromURL(context.Background(), "redis://"+mr.Addr()+"/0", time.Minute)
	require.NoError(t, err)
	defer l.Close()
	assert.NoError(t, l.Ping(context.Background()))

	_, err = NewRedisLockerFromURL(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker(time.Minute)
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	release, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "2025-03")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	release, err = l.Acquire(ctx, "2025-03")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := l.Acquire(ctx, "2025-03")
	require.NoError(t, err, "expired lock should be taken over")

	require.NoError(t, release(ctx))
	_, err = l.Acquire(ctx, "2025-03")
	assert.ErrorIs(t, err, ErrLocked, "stale release must not free the new holder")

	require.NoError(t, fresh(ctx))
}
