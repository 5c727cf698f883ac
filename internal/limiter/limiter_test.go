package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oslabs-beta/graphqlgate/internal/store"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewValidation(t *testing.T) {
	st := newTestStore(t)

	t.Run("rejects nil store", func(t *testing.T) {
		_, err := New(TokenBucket, Options{Capacity: 10, RefillRate: 1}, nil)
		require.ErrorIs(t, err, ErrConfigInvalid)
	})

	t.Run("rejects non-positive capacity", func(t *testing.T) {
		_, err := New(TokenBucket, Options{Capacity: 0, RefillRate: 1}, st)
		require.ErrorIs(t, err, ErrConfigInvalid)

		_, err = New(FixedWindow, Options{Capacity: -5, WindowMs: 1000}, st)
		require.ErrorIs(t, err, ErrConfigInvalid)
	})

	t.Run("bucket algorithms need a refill rate", func(t *testing.T) {
		_, err := New(TokenBucket, Options{Capacity: 10}, st)
		require.ErrorIs(t, err, ErrConfigInvalid)

		_, err = New(LeakyBucket, Options{Capacity: 10, RefillRate: -1}, st)
		require.ErrorIs(t, err, ErrConfigInvalid)
	})

	t.Run("window algorithms need a window size", func(t *testing.T) {
		for _, algo := range []Algorithm{FixedWindow, SlidingWindowLog, SlidingWindowCounter} {
			_, err := New(algo, Options{Capacity: 10}, st)
			require.ErrorIs(t, err, ErrConfigInvalid, string(algo))
		}
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := New(Algorithm("round_robin"), Options{Capacity: 10, WindowMs: 1000}, st)
		require.ErrorIs(t, err, ErrConfigInvalid)
	})

	t.Run("constructs all five algorithms", func(t *testing.T) {
		for _, algo := range []Algorithm{TokenBucket, LeakyBucket, FixedWindow, SlidingWindowLog, SlidingWindowCounter} {
			lim, err := New(algo, Options{Capacity: 10, RefillRate: 1, WindowMs: 1000}, st)
			require.NoError(t, err, string(algo))
			require.NotNil(t, lim)
		}
	})
}

func TestNegativeCostRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, algo := range []Algorithm{TokenBucket, LeakyBucket, FixedWindow, SlidingWindowLog, SlidingWindowCounter} {
		lim, err := New(algo, Options{Capacity: 10, RefillRate: 1, WindowMs: 1000}, st)
		require.NoError(t, err)

		_, err = lim.ProcessRequest(ctx, "caller", 1000, -1)
		require.ErrorIs(t, err, ErrConfigInvalid, string(algo))
	}
}

func TestDecodeSelfHeal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lim, err := New(TokenBucket, Options{Capacity: 10, RefillRate: 1}, st)
	require.NoError(t, err)

	// Poison the caller's record, then observe a clean first-seen decision.
	require.NoError(t, st.Set(ctx, "tb:caller", []byte("{not json"), time.Minute))

	res, err := lim.ProcessRequest(ctx, "caller", 1000, 4)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(6), res.Remaining)

	// The corrupt blob was replaced by a valid record.
	blob, err := st.Get(ctx, "tb:caller")
	require.NoError(t, err)
	var rec bucketRecord
	require.NoError(t, json.Unmarshal(blob, &rec))
	assert.Equal(t, int64(6), rec.Tokens)
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}
func (failingStore) FlushAll(ctx context.Context) error { return errors.New("connection refused") }
func (failingStore) Close() error                       { return nil }

func TestBackendUnavailable(t *testing.T) {
	lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 1000}, failingStore{})
	require.NoError(t, err)

	_, err = lim.ProcessRequest(context.Background(), "caller", 1000, 1)
	require.ErrorIs(t, err, ErrBackendUnavailable)

	require.ErrorIs(t, lim.Reset(context.Background()), ErrBackendUnavailable)
}

func TestResetIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	lim, err := New(SlidingWindowLog, Options{Capacity: 10, WindowMs: 60000}, st)
	require.NoError(t, err)

	_, err = lim.ProcessRequest(ctx, "caller", 1000, 5)
	require.NoError(t, err)

	require.NoError(t, lim.Reset(ctx))
	require.NoError(t, lim.Reset(ctx))

	blob, err := st.Get(ctx, "swl:caller")
	require.NoError(t, err)
	assert.Nil(t, blob)

	// A fresh caller after reset gets full capacity again.
	res, err := lim.ProcessRequest(ctx, "caller", 2000, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestLeakyBucketMirrorsTokenBucket(t *testing.T) {
	ctx := context.Background()

	tbStore := newTestStore(t)
	lbStore := newTestStore(t)

	tb, err := New(TokenBucket, Options{Capacity: 20, RefillRate: 2}, tbStore)
	require.NoError(t, err)
	lb, err := New(LeakyBucket, Options{Capacity: 20, RefillRate: 2}, lbStore)
	require.NoError(t, err)

	steps := []struct {
		ts   int64
		cost int64
	}{
		{0, 5}, {100, 10}, {1100, 8}, {1500, 4}, {9000, 25}, {9500, 20}, {20000, 20},
	}

	for _, step := range steps {
		a, err := tb.ProcessRequest(ctx, "caller", step.ts, step.cost)
		require.NoError(t, err)
		b, err := lb.ProcessRequest(ctx, "caller", step.ts, step.cost)
		require.NoError(t, err)

		assert.Equal(t, a.Allowed, b.Allowed, "ts=%d cost=%d", step.ts, step.cost)
		assert.Equal(t, a.Remaining, b.Remaining, "ts=%d cost=%d", step.ts, step.cost)
		assert.Equal(t, a.RetryAfterMs, b.RetryAfterMs, "ts=%d cost=%d", step.ts, step.cost)
	}
}

func TestRecordsAreNamespacedPerAlgorithm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tb, err := New(TokenBucket, Options{Capacity: 10, RefillRate: 1}, st)
	require.NoError(t, err)
	fw, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 1000}, st)
	require.NoError(t, err)

	_, err = tb.ProcessRequest(ctx, "caller", 1000, 3)
	require.NoError(t, err)
	_, err = fw.ProcessRequest(ctx, "caller", 1000, 3)
	require.NoError(t, err)

	tbBlob, err := st.Get(ctx, "tb:caller")
	require.NoError(t, err)
	fwBlob, err := st.Get(ctx, "fw:caller")
	require.NoError(t, err)
	assert.NotNil(t, tbBlob)
	assert.NotNil(t, fwBlob)
	assert.NotEqual(t, tbBlob, fwBlob)
}
