package limiter

import (
	"context"
)

// logEntry is one admitted request in a caller's sliding-window log.
type logEntry struct {
	TimestampMs int64 `json:"ts"`
	Tokens      int64 `json:"tokens"`
}

// slidingWindowLog keeps a timestamped log of admitted costs and charges a
// request against the exact total inside the trailing window.
type slidingWindowLog struct {
	backend
	capacity int64
	windowMs int64
}

func (sl *slidingWindowLog) ProcessRequest(ctx context.Context, callerID string, timestampMs int64, cost int64) (*Result, error) {
	if err := validCost(cost); err != nil {
		return nil, err
	}
	key := "swl:" + callerID

	var entries []logEntry
	if _, err := sl.load(ctx, key, &entries); err != nil {
		return nil, err
	}

	// Expire everything at or before the cutoff. Comparison is strict per
	// the log's expiry convention: an entry exactly windowMs old is gone.
	cutoff := timestampMs - sl.windowMs
	active := int64(0)
	kept := entries[:0]
	for _, e := range entries {
		if e.TimestampMs <= cutoff {
			continue
		}
		kept = append(kept, e)
		active += e.Tokens
	}
	entries = kept

	if cost <= sl.capacity && active+cost <= sl.capacity {
		if cost > 0 {
			entries = appendOrdered(entries, logEntry{TimestampMs: timestampMs, Tokens: cost})
		}
		if err := sl.persist(ctx, key, entries); err != nil {
			return nil, err
		}
		return &Result{Allowed: true, Remaining: sl.capacity - active - cost}, nil
	}

	if err := sl.persist(ctx, key, entries); err != nil {
		return nil, err
	}

	remaining := sl.capacity - active
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:      false,
		Remaining:    remaining,
		RetryAfterMs: sl.retryAfter(entries, timestampMs, cost),
	}, nil
}

// retryAfter finds the earliest time the denied cost can fit: walk the log
// from the newest entry backward, growing the suffix that will still be
// live, and stop at the oldest entry whose expiry frees enough room. That
// entry leaves the window at its timestamp plus windowMs.
func (sl *slidingWindowLog) retryAfter(entries []logEntry, timestampMs, cost int64) int64 {
	if cost > sl.capacity {
		return RetryNever
	}

	kept := int64(0)
	breaker := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if kept+cost > sl.capacity {
			break
		}
		breaker = i
		kept += entries[i].Tokens
	}
	if breaker < 0 {
		// Deny with an empty log can only mean cost > capacity.
		return RetryNever
	}
	return sl.windowMs + entries[breaker].TimestampMs - timestampMs
}

// appendOrdered keeps the log non-decreasing in timestamp even when a
// caller's clock briefly steps backwards.
func appendOrdered(entries []logEntry, e logEntry) []logEntry {
	entries = append(entries, e)
	for i := len(entries) - 1; i > 0 && entries[i].TimestampMs < entries[i-1].TimestampMs; i-- {
		entries[i], entries[i-1] = entries[i-1], entries[i]
	}
	return entries
}

func (sl *slidingWindowLog) Reset(ctx context.Context) error {
	return sl.reset(ctx)
}
