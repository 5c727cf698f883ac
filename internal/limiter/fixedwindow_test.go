package limiter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("windows align to the first request", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 6000}, st)
		require.NoError(t, err)

		res, err := lim.ProcessRequest(ctx, "caller", 1234, 4)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(6), res.Remaining)

		blob, err := st.Get(ctx, "fw:caller")
		require.NoError(t, err)
		var rec windowRecord
		require.NoError(t, json.Unmarshal(blob, &rec))
		assert.Equal(t, int64(1234), rec.StartMs)
		assert.Equal(t, int64(4), rec.Current)
	})

	t.Run("denies at the end of a nearly full window", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 6000}, st)
		require.NoError(t, err)

		start := int64(100_000)
		_, err = lim.ProcessRequest(ctx, "caller", start, 9)
		require.NoError(t, err)

		res, err := lim.ProcessRequest(ctx, "caller", start+5999, 2)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(1), res.Remaining)
		assert.Equal(t, int64(1), res.RetryAfterMs)
	})

	t.Run("counter resets at the window boundary", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 6000}, st)
		require.NoError(t, err)

		start := int64(100_000)
		_, err = lim.ProcessRequest(ctx, "caller", start, 9)
		require.NoError(t, err)

		res, err := lim.ProcessRequest(ctx, "caller", start+6000, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(9), res.Remaining)

		blob, err := st.Get(ctx, "fw:caller")
		require.NoError(t, err)
		var rec windowRecord
		require.NoError(t, json.Unmarshal(blob, &rec))
		assert.Equal(t, start+6000, rec.StartMs)
		assert.Equal(t, int64(1), rec.Current)
	})

	t.Run("idle callers advance by whole windows", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 6000}, st)
		require.NoError(t, err)

		_, err = lim.ProcessRequest(ctx, "caller", 0, 5)
		require.NoError(t, err)

		// Two and a half windows later: the window containing the request
		// starts at 12000, not at the request timestamp.
		res, err := lim.ProcessRequest(ctx, "caller", 15_000, 5)
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		blob, err := st.Get(ctx, "fw:caller")
		require.NoError(t, err)
		var rec windowRecord
		require.NoError(t, json.Unmarshal(blob, &rec))
		assert.Equal(t, int64(12_000), rec.StartMs)
	})

	t.Run("cost above capacity is never admitted", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 6000}, st)
		require.NoError(t, err)

		res, err := lim.ProcessRequest(ctx, "caller", 500, 11)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, int64(10), res.Remaining)
		assert.Equal(t, RetryNever, res.RetryAfterMs)

		blob, err := st.Get(ctx, "fw:caller")
		require.NoError(t, err)
		require.NotNil(t, blob)
	})

	t.Run("resubmitting after the hinted wait succeeds", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 6000}, st)
		require.NoError(t, err)

		_, err = lim.ProcessRequest(ctx, "caller", 1000, 10)
		require.NoError(t, err)

		res, err := lim.ProcessRequest(ctx, "caller", 3000, 5)
		require.NoError(t, err)
		require.False(t, res.Allowed)
		require.Equal(t, int64(4000), res.RetryAfterMs)

		res, err = lim.ProcessRequest(ctx, "caller", 3000+res.RetryAfterMs, 5)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("allowed costs in one window never exceed capacity", func(t *testing.T) {
		st := newTestStore(t)
		lim, err := New(FixedWindow, Options{Capacity: 10, WindowMs: 5000}, st)
		require.NoError(t, err)

		perWindow := make(map[int64]int64)
		for ts := int64(0); ts < 50_000; ts += 333 {
			res, err := lim.ProcessRequest(ctx, "caller", ts, 2)
			require.NoError(t, err)
			if res.Allowed {
				perWindow[ts/5000] += 2
			}
		}
		for window, total := range perWindow {
			assert.LessOrEqual(t, total, int64(10), "window %d", window)
		}
	})
}
