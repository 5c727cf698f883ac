package limiter

import (
	"context"
	"math"
)

// bucketRecord is the per-caller state shared by the token and leaky bucket
// algorithms: a token count and the timestamp of the last decision.
type bucketRecord struct {
	Tokens      int64 `json:"tokens"`
	TimestampMs int64 `json:"ts"`
}

// tokenBucket refills a caller's budget continuously at refillRate tokens
// per second, up to capacity; each admitted request drains its cost.
type tokenBucket struct {
	backend
	capacity   int64
	refillRate int64
	keyPrefix  string
}

func newBucketLimiter(algorithm Algorithm, capacity, refillRate int64, b backend) Limiter {
	tb := &tokenBucket{
		backend:    b,
		capacity:   capacity,
		refillRate: refillRate,
		keyPrefix:  "tb:",
	}
	if algorithm == LeakyBucket {
		tb.keyPrefix = "lb:"
		return &leakyBucket{tokenBucket: tb}
	}
	return tb
}

func (tb *tokenBucket) ProcessRequest(ctx context.Context, callerID string, timestampMs int64, cost int64) (*Result, error) {
	if err := validCost(cost); err != nil {
		return nil, err
	}
	key := tb.keyPrefix + callerID

	var rec bucketRecord
	seen, err := tb.load(ctx, key, &rec)
	if err != nil {
		return nil, err
	}

	if !seen {
		rec = bucketRecord{Tokens: tb.capacity, TimestampMs: timestampMs}
		if cost > tb.capacity {
			if err := tb.persist(ctx, key, rec); err != nil {
				return nil, err
			}
			return &Result{Allowed: false, Remaining: rec.Tokens, RetryAfterMs: RetryNever}, nil
		}
		rec.Tokens = tb.capacity - cost
		if err := tb.persist(ctx, key, rec); err != nil {
			return nil, err
		}
		return &Result{Allowed: true, Remaining: rec.Tokens}, nil
	}

	rec.Tokens = refill(rec.Tokens, tb.capacity, tb.refillRate, timestampMs-rec.TimestampMs)
	rec.TimestampMs = timestampMs

	if rec.Tokens >= cost {
		rec.Tokens -= cost
		if err := tb.persist(ctx, key, rec); err != nil {
			return nil, err
		}
		return &Result{Allowed: true, Remaining: rec.Tokens}, nil
	}

	if err := tb.persist(ctx, key, rec); err != nil {
		return nil, err
	}

	retry := RetryNever
	if cost <= tb.capacity {
		retry = ceilDiv(cost-rec.Tokens, tb.refillRate) * 1000
	}
	return &Result{Allowed: false, Remaining: rec.Tokens, RetryAfterMs: retry}, nil
}

func (tb *tokenBucket) Reset(ctx context.Context) error {
	return tb.reset(ctx)
}

// refill adds elapsed-seconds * rate tokens, clamped to capacity. Elapsed
// time is floored to whole seconds; sub-second remainders are discarded
// because the record's timestamp advances to now on every decision.
func refill(tokens, capacity, rate, elapsedMs int64) int64 {
	if elapsedMs <= 0 {
		return tokens
	}
	elapsedS := elapsedMs / 1000
	if elapsedS > math.MaxInt64/rate {
		return capacity
	}
	refilled := tokens + elapsedS*rate
	if refilled > capacity || refilled < tokens {
		return capacity
	}
	return refilled
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
