package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/kv"
	"signet/pkg/platform/sentinel"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) kv.Store {
		_, client := newMiniredis(t)
		return kv.NewRedis(client)
	})
}

func TestRedisUsesPrefixAndReleasesLease(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := kv.NewRedis(client, kv.WithPrefix("test:"))

	err := store.Update(ctx, "document:doc-1", func(context.Context, []byte, bool) ([]byte, error) {
		assert.True(t, mr.Exists("test:lease:document:doc-1"), "lease held during update")
		return []byte("v"), nil
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:kv:document:doc-1"))
	assert.False(t, mr.Exists("test:lease:document:doc-1"), "lease released after update")
}

func TestRedisReleasesLeaseOnError(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := kv.NewRedis(client)

	err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
		return nil, sentinel.ErrInvalidState
	})
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	assert.False(t, mr.Exists("signet:lease:k"))
}

func TestRedisAcquireTimesOutWhenLeaseHeld(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := kv.NewRedis(client, kv.WithAcquireTimeout(30*time.Millisecond))

	require.NoError(t, mr.Set("signet:lease:k", "someone-else"))

	called := false
	err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
		called = true
		return []byte("v"), nil
	})
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.False(t, called)
	assert.Equal(t, "someone-else", mustGet(t, mr, "signet:lease:k"), "foreign lease untouched")
}

func TestRedisRejectsWriteAfterLeaseLost(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := kv.NewRedis(client)

	err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
		// Another holder took over after our lease expired.
		mr.Set("signet:lease:k", "usurper")
		return []byte("stale"), nil
	})
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	assert.False(t, mr.Exists("signet:kv:k"))
	assert.Equal(t, "usurper", mustGet(t, mr, "signet:lease:k"))
}

func TestRedisUpdateContextEndsBeforeLease(t *testing.T) {
	ctx := context.Background()
	_, client := newMiniredis(t)
	ttl := 200 * time.Millisecond
	store := kv.NewRedis(client, kv.WithLeaseTTL(ttl))

	before := time.Now()
	err := store.Update(ctx, "k", func(ctx context.Context, _ []byte, _ bool) ([]byte, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "update context carries the lease deadline")
		assert.True(t, deadline.Before(before.Add(ttl)), "deadline %v leaves room before lease expiry", deadline)
		return []byte("v"), nil
	})
	require.NoError(t, err)
}

func TestRedisSlowUpdateIsCancelledBeforeLeaseExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	store := kv.NewRedis(client, kv.WithLeaseTTL(100*time.Millisecond))

	err := store.Update(ctx, "k", func(ctx context.Context, _ []byte, _ bool) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, mr.Exists("signet:kv:k"))
	assert.False(t, mr.Exists("signet:lease:k"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
