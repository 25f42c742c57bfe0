package kv_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/kv"
	"signet/pkg/platform/sentinel"
)

// runStoreContract exercises the behaviour every Store adapter must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key returns not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("set then get round trips bytes", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Set(ctx, "k", []byte{0x00, 0xff, 0x10}))

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0xff, 0x10}, got)
	})

	t.Run("update sees absence then writes", func(t *testing.T) {
		store := newStore(t)
		err := store.Update(ctx, "k", func(_ context.Context, current []byte, found bool) ([]byte, error) {
			assert.False(t, found)
			assert.Nil(t, current)
			return []byte("first"), nil
		})
		require.NoError(t, err)

		err = store.Update(ctx, "k", func(_ context.Context, current []byte, found bool) ([]byte, error) {
			assert.True(t, found)
			return append(current, "+second"...), nil
		})
		require.NoError(t, err)

		got, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "first+second", string(got))
	})

	t.Run("update error writes nothing", func(t *testing.T) {
		store := newStore(t)
		boom := errors.New("boom")
		err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = store.Get(ctx, "k")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("update fn runs once per call", func(t *testing.T) {
		store := newStore(t)
		calls := 0
		err := store.Update(ctx, "k", func(context.Context, []byte, bool) ([]byte, error) {
			calls++
			return []byte("v"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("concurrent updates on one key are serialized", func(t *testing.T) {
		store := newStore(t)
		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Update(ctx, "counter", func(_ context.Context, current []byte, found bool) ([]byte, error) {
					n := 0
					if found {
						_, _ = fmt.Sscanf(string(current), "%d", &n)
					}
					return []byte(fmt.Sprintf("%d", n+1)), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", workers), string(got))
	})
}
