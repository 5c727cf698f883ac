package limiter

// leakyBucket is the outflow reading of the token bucket: requests pour
// cost into the bucket and the level drains at the refill rate. A request
// fits while the level plus its cost does not exceed capacity, which is the
// same admission surface as the token bucket, so the engine is shared and
// only the key namespace differs.
type leakyBucket struct {
	*tokenBucket
}
