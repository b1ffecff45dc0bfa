// resolve.go selects the process-wide Store backend: Redis when an endpoint
// is configured and reachable, otherwise the in-process map. The selection
// is made once, lazily, and cached for the life of the process.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-labs/aegis/log"
)

var (
	resolveOnce sync.Once
	resolved    Store
)

// Resolve returns the process-wide Store. On first call it attempts to
// connect to redisURL (if non-empty); connection failure logs a warning and
// falls back to an in-process MemoryStore. Subsequent calls return the same
// instance regardless of arguments.
func Resolve(ctx context.Context, redisURL string) Store {
	resolveOnce.Do(func() {
		logger := log.Default().Module("store")
		if redisURL != "" {
			rs, err := NewRedisStore(ctx, redisURL)
			if err == nil {
				logger.Info("using shared redis state store")
				resolved = rs
				return
			}
			logger.Warn("redis unavailable, falling back to in-process store", "err", err.Error())
		}
		resolved = NewMemoryStore()
	})
	return resolved
}

// SetResolved replaces the cached process-wide Store. Tests use this to
// inject a fresh MemoryStore per case.
func SetResolved(s Store) {
	resolveOnce.Do(func() {})
	resolved = s
}

// healthProbe is the payload written during a health roundtrip.
type healthProbe struct {
	At int64 `json:"at"`
}

// HealthStatus is the result of a store health roundtrip.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
}

// HealthCheck performs a set/get roundtrip on a probe key
// (aegis:health:<epoch-ms>, 5s TTL) and reports whether the store is
// serving reads and writes.
func HealthCheck(ctx context.Context, s Store) HealthStatus {
	now := time.Now().UnixMilli()
	key := fmt.Sprintf("aegis:health:%d", now)
	payload, _ := json.Marshal(healthProbe{At: now})

	if err := s.Set(ctx, key, payload, 5*time.Second); err != nil {
		return HealthStatus{Connected: false, Message: "write failed: " + err.Error()}
	}
	got, ok, err := s.Get(ctx, key)
	if err != nil {
		return HealthStatus{Connected: false, Message: "read failed: " + err.Error()}
	}
	if !ok || string(got) != string(payload) {
		return HealthStatus{Connected: false, Message: "probe value mismatch"}
	}
	return HealthStatus{Connected: true}
}
