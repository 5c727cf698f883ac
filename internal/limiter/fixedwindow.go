package limiter

import (
	"context"
)

// windowRecord is the per-caller state for the fixed and sliding-window
// counter algorithms. The fixed window never sets Previous; the sliding-window
// counter leaves it nil until the caller has lived through at least one
// completed window.
type windowRecord struct {
	Current  int64  `json:"current"`
	Previous *int64 `json:"previous,omitempty"`
	StartMs  int64  `json:"start"`
}

// fixedWindow charges costs against a counter that resets every windowMs,
// with windows aligned to the caller's first request.
type fixedWindow struct {
	backend
	capacity int64
	windowMs int64
}

func (fw *fixedWindow) ProcessRequest(ctx context.Context, callerID string, timestampMs int64, cost int64) (*Result, error) {
	if err := validCost(cost); err != nil {
		return nil, err
	}
	key := "fw:" + callerID

	var rec windowRecord
	seen, err := fw.load(ctx, key, &rec)
	if err != nil {
		return nil, err
	}

	if !seen {
		rec = windowRecord{StartMs: timestampMs}
	} else if timestampMs >= rec.StartMs+fw.windowMs {
		// Advance by whole windows so the current one contains timestampMs.
		// A stored counter above capacity (which no write path produces) is
		// wiped here along with everything else.
		elapsed := (timestampMs - rec.StartMs) / fw.windowMs
		rec.StartMs += elapsed * fw.windowMs
		rec.Current = 0
	}

	if cost <= fw.capacity && rec.Current+cost <= fw.capacity {
		rec.Current += cost
		if err := fw.persist(ctx, key, rec); err != nil {
			return nil, err
		}
		return &Result{Allowed: true, Remaining: fw.capacity - rec.Current}, nil
	}

	if err := fw.persist(ctx, key, rec); err != nil {
		return nil, err
	}

	retry := RetryNever
	if cost <= fw.capacity {
		retry = rec.StartMs + fw.windowMs - timestampMs
	}
	remaining := fw.capacity - rec.Current
	if remaining < 0 {
		remaining = 0
	}
	return &Result{Allowed: false, Remaining: remaining, RetryAfterMs: retry}, nil
}

func (fw *fixedWindow) Reset(ctx context.Context) error {
	return fw.reset(ctx)
}
