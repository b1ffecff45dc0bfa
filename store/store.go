// Package store provides the shared key-value state abstraction used by the
// aegis control plane. The source of truth for all cross-process state
// (reserve record, breaker state, queue lists, rate-limit counters) is a
// Store; a remote Redis backend is used when configured and reachable, with
// an in-process map as fallback.
package store

import (
	"context"
	"time"
)

// Store is the key-value contract every backend satisfies. Values are opaque
// byte strings; callers serialize structured data as they see fit.
//
// Implementations must not panic: backend failures surface as absence (Get),
// no-op (Set), or a false write (SetNX) together with the error for logging.
type Store interface {
	// Get returns the most recently set value for key, or ok=false if the
	// key was never set or its TTL expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set overwrites key unconditionally. A zero ttl means the entry is
	// persistent; otherwise it becomes absent after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX atomically sets key only if it is absent (or expired) and
	// reports whether the write occurred. It is the primitive behind the
	// queue's advisory lock.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
