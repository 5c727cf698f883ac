package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oslabs-beta/graphqlgate/internal/config"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns nil for missing keys", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		value, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("set then get round-trips the blob", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		blob := []byte(`{"tokens":5,"ts":1000}`)
		require.NoError(t, s.Set(ctx, "caller", blob, time.Minute))

		value, err := s.Get(ctx, "caller")
		require.NoError(t, err)
		assert.Equal(t, blob, value)
	})

	t.Run("set replaces the previous value and TTL", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "caller", []byte("old"), 10*time.Millisecond))
		require.NoError(t, s.Set(ctx, "caller", []byte("new"), time.Minute))
		time.Sleep(30 * time.Millisecond)

		value, err := s.Get(ctx, "caller")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), value)
	})

	t.Run("stored value is isolated from caller mutations", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		blob := []byte("abc")
		require.NoError(t, s.Set(ctx, "caller", blob, time.Minute))
		blob[0] = 'x'

		value, err := s.Get(ctx, "caller")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), value)
	})

	t.Run("expired entries read as missing", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "caller", []byte("v"), 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		value, err := s.Get(ctx, "caller")
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("flush all clears every key", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
		require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))

		require.NoError(t, s.FlushAll(ctx))
		require.NoError(t, s.FlushAll(ctx)) // idempotent

		for _, key := range []string{"a", "b"} {
			value, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, value)
		}
	})

	t.Run("cleanup drops only expired entries", func(t *testing.T) {
		s := NewMemoryStore(time.Hour)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "short", []byte("1"), 5*time.Millisecond))
		require.NoError(t, s.Set(ctx, "long", []byte("2"), time.Hour))
		time.Sleep(20 * time.Millisecond)

		s.cleanup()

		s.mu.RLock()
		_, shortExists := s.data["short"]
		_, longExists := s.data["long"]
		s.mu.RUnlock()

		assert.False(t, shortExists)
		assert.True(t, longExists)
	})

	t.Run("close is safe to call twice", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
	})

	t.Run("concurrent access does not race", func(t *testing.T) {
		s := NewMemoryStore(time.Minute)
		defer s.Close()

		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			go func(n int) {
				defer func() { done <- struct{}{} }()
				key := string(rune('a' + n))
				for j := 0; j < 100; j++ {
					_ = s.Set(ctx, key, []byte{byte(j)}, time.Minute)
					_, _ = s.Get(ctx, key)
				}
			}(i)
		}
		for i := 0; i < 8; i++ {
			<-done
		}
	})
}

func TestNewStoreFactory(t *testing.T) {
	t.Run("defaults to memory", func(t *testing.T) {
		s, err := NewStore(&config.StoreConfig{}, nil)
		require.NoError(t, err)
		defer s.Close()
		_, ok := s.(*MemoryStore)
		assert.True(t, ok)
	})

	t.Run("postgres requires a pool", func(t *testing.T) {
		_, err := NewStore(&config.StoreConfig{Backend: "postgres"}, nil)
		require.Error(t, err)
	})

	t.Run("redis requires a url", func(t *testing.T) {
		_, err := NewStore(&config.StoreConfig{Backend: "redis"}, nil)
		require.Error(t, err)
	})

	t.Run("unknown backend is rejected", func(t *testing.T) {
		_, err := NewStore(&config.StoreConfig{Backend: "etcd"}, nil)
		require.Error(t, err)
	})
}
