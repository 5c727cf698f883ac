// Package limiter implements the rate-limit decision engine: five
// interchangeable algorithms that consume (caller, timestamp, cost) and
// decide admission against shared state in a pluggable backend.
package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oslabs-beta/graphqlgate/internal/store"
)

var (
	// ErrConfigInvalid is returned by New for non-positive capacity, refill
	// rate, or window size, and by ProcessRequest for a negative cost.
	ErrConfigInvalid = errors.New("invalid rate limiter configuration")

	// ErrBackendUnavailable wraps any state backend failure. The engine
	// never retries; fail-open vs fail-closed is the caller's policy.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")

	// ErrDecode marks a stored record that could not be parsed. It is
	// recovered internally: the record is treated as absent and rewritten,
	// so a single corruption self-heals.
	ErrDecode = errors.New("stored rate limit record is corrupt")
)

// Algorithm selects one of the five decision algorithms.
type Algorithm string

const (
	TokenBucket          Algorithm = "token_bucket"
	LeakyBucket          Algorithm = "leaky_bucket"
	FixedWindow          Algorithm = "fixed_window"
	SlidingWindowLog     Algorithm = "sliding_window_log"
	SlidingWindowCounter Algorithm = "sliding_window_counter"
)

// RetryNever is the RetryAfterMs sentinel for requests that can never
// succeed because their cost exceeds capacity.
const RetryNever int64 = -1

// Result is the outcome of one admission decision.
type Result struct {
	// Allowed reports whether the request was admitted.
	Allowed bool `json:"allowed"`

	// Remaining is the post-decision available capacity. Never negative.
	Remaining int64 `json:"remaining"`

	// RetryAfterMs is set on every deny: the wait until the same cost can
	// succeed, RetryNever when it never can. Zero on allow.
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}

// Options holds the per-algorithm parameters.
type Options struct {
	// Capacity is the maximum tokens chargeable within the algorithm's
	// accounting unit. Required, strictly positive.
	Capacity int64

	// RefillRate is tokens per second, used by the bucket algorithms.
	RefillRate int64

	// WindowMs is the window size in milliseconds, used by the window
	// algorithms.
	WindowMs int64

	// TTL overrides how long idle caller records survive in the backend.
	// Zero means store.DefaultTTL.
	TTL time.Duration
}

// Limiter is the uniform surface over the five algorithms.
type Limiter interface {
	// ProcessRequest decides whether a request of the given cost from the
	// given caller at the given wall-clock timestamp (ms) is admitted.
	// The caller's record is rewritten on every decision, allow or deny,
	// refreshing its TTL.
	ProcessRequest(ctx context.Context, callerID string, timestampMs int64, cost int64) (*Result, error)

	// Reset clears the entire backend keyspace. Administrative use only.
	Reset(ctx context.Context) error
}

// New constructs the limiter for the chosen algorithm. Dispatch over the
// algorithm tag is closed: there is no way to register a sixth variant.
func New(algorithm Algorithm, opts Options, st store.Store) (Limiter, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfigInvalid)
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrConfigInvalid, opts.Capacity)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	b := backend{store: st, ttl: ttl}

	switch algorithm {
	case TokenBucket, LeakyBucket:
		if opts.RefillRate <= 0 {
			return nil, fmt.Errorf("%w: refill rate must be positive, got %d", ErrConfigInvalid, opts.RefillRate)
		}
		return newBucketLimiter(algorithm, opts.Capacity, opts.RefillRate, b), nil

	case FixedWindow:
		if opts.WindowMs <= 0 {
			return nil, fmt.Errorf("%w: window size must be positive, got %d", ErrConfigInvalid, opts.WindowMs)
		}
		return &fixedWindow{backend: b, capacity: opts.Capacity, windowMs: opts.WindowMs}, nil

	case SlidingWindowLog:
		if opts.WindowMs <= 0 {
			return nil, fmt.Errorf("%w: window size must be positive, got %d", ErrConfigInvalid, opts.WindowMs)
		}
		return &slidingWindowLog{backend: b, capacity: opts.Capacity, windowMs: opts.WindowMs}, nil

	case SlidingWindowCounter:
		if opts.WindowMs <= 0 {
			return nil, fmt.Errorf("%w: window size must be positive, got %d", ErrConfigInvalid, opts.WindowMs)
		}
		return &slidingWindowCounter{backend: b, capacity: opts.Capacity, windowMs: opts.WindowMs}, nil

	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrConfigInvalid, algorithm)
	}
}

// backend is the shared store access layer: one read and one write per
// decision, records serialized as JSON blobs.
type backend struct {
	store store.Store
	ttl   time.Duration
}

// load reads the record under key into v. Returns false when no record
// exists or the stored blob is corrupt (the corruption is logged and the
// record treated as absent).
func (b backend) load(ctx context.Context, key string, v interface{}) (bool, error) {
	blob, err := b.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if blob == nil {
		return false, nil
	}

	if err := json.Unmarshal(blob, v); err != nil {
		log.Warn().Str("key", key).Err(fmt.Errorf("%w: %v", ErrDecode, err)).
			Msg("Discarding unreadable rate limit record")
		return false, nil
	}
	return true, nil
}

// persist rewrites the record under key, refreshing its TTL.
func (b backend) persist(ctx context.Context, key string, v interface{}) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode rate limit record: %w", err)
	}
	if err := b.store.Set(ctx, key, blob, b.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// reset clears the backend keyspace.
func (b backend) reset(ctx context.Context) error {
	if err := b.store.FlushAll(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func validCost(cost int64) error {
	if cost < 0 {
		return fmt.Errorf("%w: cost must be non-negative, got %d", ErrConfigInvalid, cost)
	}
	return nil
}
