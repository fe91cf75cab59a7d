package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/folio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	mr, client := newRedis(t)
	w := NewFixedWindow(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := w.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := w.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	mr.FastForward(time.Minute + time.Second)

	res, err = w.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	_, client := newRedis(t)
	w := NewFixedWindow(client)
	ctx := context.Background()

	res, err := w.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = w.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = w.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestFixedWindowValidation(t *testing.T) {
	var nilWindow *FixedWindow
	_, err := nilWindow.Allow(context.Background(), "k", 1, time.Minute)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, client := newRedis(t)
	w := NewFixedWindow(client)
	_, err = w.Allow(context.Background(), "", 1, time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = w.Allow(context.Background(), "k", 0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestLimiterUsesPolicyPerEndpoint(t *testing.T) {
	_, client := newRedis(t)
	policy := config.DefaultPolicy()
	policy.CheckoutPerMinute = 1
	policy.DownloadPerMinute = 2
	policy.RatingPerMinute = 1
	l := NewLimiter(client, config.NewStaticPolicyHolder(policy))
	ctx := context.Background()

	res, err := l.Allow(ctx, EndpointCheckout, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = l.Allow(ctx, EndpointCheckout, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, EndpointCheckout, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	for i := 0; i < 2; i++ {
		res, err = l.Allow(ctx, EndpointDownload, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err = l.Allow(ctx, EndpointDownload, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, EndpointRating, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = l.Allow(ctx, EndpointRating, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiterWithoutRedisAllows(t *testing.T) {
	l := NewLimiter(nil, nil)
	assert.False(t, l.Enabled())
	res, err := l.Allow(context.Background(), EndpointCheckout, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockerWithLock(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ran := false
	err = locker.WithLock(ctx, "job", time.Minute, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.False(t, ran)

	require.NoError(t, locker.Release(ctx, "job", "wrong-token"))
	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "job", token))

	jobErr := errors.New("job failed")
	err = locker.WithLock(ctx, "job", time.Minute, func(context.Context) error {
		ran = true
		return jobErr
	})
	assert.ErrorIs(t, err, jobErr)
	assert.True(t, ran)

	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilLocker(t *testing.T) {
	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "job", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "job", "token"))
}
