package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long processed-request markers survive. Replays of
// the same key inside the window return the stored result instead of
// re-running side effects.
const DefaultTTL = time.Hour

// Store is an atomic check-and-set marker store keyed by caller-supplied
// idempotency keys.
type Store interface {
	// Get returns the stored payload for key, if any.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetNX stores value under key only when absent. It reports whether
	// the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set unconditionally stores value under key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the marker.
	Delete(ctx context.Context, key string) error
}
