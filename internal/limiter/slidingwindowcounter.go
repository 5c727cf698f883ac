package limiter

import (
	"context"
	"math"
)

// slidingWindowCounter approximates a true sliding window with two fixed
// windows: the previous window's total is scaled by how much of it still
// overlaps the trailing windowMs and added to the current counter.
type slidingWindowCounter struct {
	backend
	capacity int64
	windowMs int64
}

func (sw *slidingWindowCounter) ProcessRequest(ctx context.Context, callerID string, timestampMs int64, cost int64) (*Result, error) {
	if err := validCost(cost); err != nil {
		return nil, err
	}
	key := "swc:" + callerID

	var rec windowRecord
	seen, err := sw.load(ctx, key, &rec)
	if err != nil {
		return nil, err
	}

	if !seen {
		rec = windowRecord{StartMs: timestampMs}
		if cost > sw.capacity {
			if err := sw.persist(ctx, key, rec); err != nil {
				return nil, err
			}
			return &Result{Allowed: false, Remaining: sw.capacity, RetryAfterMs: RetryNever}, nil
		}
		rec.Current = cost
		if err := sw.persist(ctx, key, rec); err != nil {
			return nil, err
		}
		return &Result{Allowed: true, Remaining: sw.capacity - cost}, nil
	}

	zero := int64(0)
	switch {
	case timestampMs >= rec.StartMs+2*sw.windowMs:
		// The caller skipped at least one whole window: nothing overlaps.
		rec.Previous = &zero
		rec.Current = 0
		rec.StartMs = timestampMs
	case timestampMs >= rec.StartMs+sw.windowMs:
		prev := rec.Current
		rec.Previous = &prev
		rec.Current = 0
		rec.StartMs += sw.windowMs
	}

	previous := int64(0)
	if rec.Previous != nil {
		previous = *rec.Previous
	}

	// Share of the previous window still inside the trailing windowMs.
	p := float64(sw.windowMs-(timestampMs-rec.StartMs)) / float64(sw.windowMs)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	rollingFromPrev := int64(math.Floor(float64(previous) * p))
	effectiveUsed := rec.Current + rollingFromPrev

	if cost <= sw.capacity && effectiveUsed+cost <= sw.capacity {
		rec.Current += cost
		if err := sw.persist(ctx, key, rec); err != nil {
			return nil, err
		}
		return &Result{Allowed: true, Remaining: sw.capacity - effectiveUsed - cost}, nil
	}

	if err := sw.persist(ctx, key, rec); err != nil {
		return nil, err
	}

	remaining := sw.capacity - effectiveUsed
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:      false,
		Remaining:    remaining,
		RetryAfterMs: sw.retryAfter(rec.Current, previous, rollingFromPrev, effectiveUsed, p, cost),
	}, nil
}

// retryAfter estimates the wait until the denied cost fits, splitting the
// shortfall between the decaying previous-window share and the aging of the
// current counter. The interpolation is an estimate, not an exact schedule;
// everything is computed in milliseconds.
func (sw *slidingWindowCounter) retryAfter(current, previous, rollingFromPrev, effectiveUsed int64, p float64, cost int64) int64 {
	if cost > sw.capacity {
		return RetryNever
	}

	need := cost - (sw.capacity - effectiveUsed)
	needPrev := need
	if rollingFromPrev < needPrev {
		needPrev = rollingFromPrev
	}
	needCurr := need - needPrev

	window := float64(sw.windowMs)

	tPrev := window * p
	if rollingFromPrev > needPrev {
		tPrev = window * p * float64(previous-needPrev) / float64(rollingFromPrev)
	}

	tCurr := 0.0
	if needCurr > 0 && current > 0 {
		tCurr = window * float64(needCurr) / float64(current)
	}

	return int64(math.Ceil(tPrev + tCurr))
}

func (sw *slidingWindowCounter) Reset(ctx context.Context) error {
	return sw.reset(ctx)
}
