// Package ratelimit provides the shared rate-limit counters for the aegis
// control plane. Sliding windows are stored in the state store as JSON lists
// of event timestamps; checking and recording are deliberately separate so
// policy rules consume quota only when a decision passes.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/store"
)

// Well-known counter keys. The minute windows expire with a 60s TTL, the
// daily windows with 24h.
const (
	GlobalMinuteKey = "aegis:sponsorship:global:minute"

	agentDayKeyFmt      = "aegis:sponsorship:agent:%s:day"
	protocolMinuteFmt   = "aegis:sponsorship:protocol:%s:minute"
	sybilKeyFmt         = "aegis:abuse:sybil:%s"
)

// maxWindowEntries caps a stored timestamp list regardless of quota, so a
// hot key cannot grow without bound.
const maxWindowEntries = 1000

// AgentDayKey returns the per-user daily counter key. Addresses are
// lowercased so checksummed and plain forms share a window.
func AgentDayKey(addr string) string {
	return fmt.Sprintf(agentDayKeyFmt, strings.ToLower(addr))
}

// ProtocolMinuteKey returns the per-protocol minute counter key.
func ProtocolMinuteKey(protocolID string) string {
	return fmt.Sprintf(protocolMinuteFmt, protocolID)
}

// SybilKey returns the per-wallet 24h sponsorship counter used by abuse
// detection.
func SybilKey(addr string) string {
	return fmt.Sprintf(sybilKeyFmt, strings.ToLower(addr))
}

// SlidingWindow counts events per key within a trailing window. The
// read-filter-write cycle is not atomic; small over-admission under high
// contention is accepted by design.
type SlidingWindow struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// NewSlidingWindow creates a SlidingWindow over the given store.
func NewSlidingWindow(s store.Store) *SlidingWindow {
	return &SlidingWindow{
		store:  s,
		logger: log.Default().Module("ratelimit"),
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (w *SlidingWindow) SetClock(now func() time.Time) { w.now = now }

// Count returns the number of events recorded for key within the trailing
// window. A store failure is a transient dependency error: it is logged and
// the list treated as empty.
func (w *SlidingWindow) Count(ctx context.Context, key string, window time.Duration) int {
	return len(w.load(ctx, key, window))
}

// Allow reports whether another event would stay within quota. It does not
// record anything.
func (w *SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, quota int) bool {
	return w.Count(ctx, key, window) < quota
}

// Record appends the current timestamp to key's window list, clamps it, and
// writes it back with a TTL equal to the window. Callers invoke Record only
// after the corresponding check passed.
func (w *SlidingWindow) Record(ctx context.Context, key string, window time.Duration) {
	stamps := w.load(ctx, key, window)
	stamps = append(stamps, w.now().UnixMilli())
	if len(stamps) > maxWindowEntries {
		stamps = stamps[len(stamps)-maxWindowEntries:]
	}
	payload, err := json.Marshal(stamps)
	if err != nil {
		w.logger.Error("marshal window", "key", key, "err", err.Error())
		return
	}
	if err := w.store.Set(ctx, key, payload, window); err != nil {
		w.logger.Warn("window write failed", "key", key, "err", err.Error())
	}
}

// load reads the timestamp list for key and discards entries older than the
// window. Malformed or unreadable lists are treated as empty.
func (w *SlidingWindow) load(ctx context.Context, key string, window time.Duration) []int64 {
	raw, ok, err := w.store.Get(ctx, key)
	if err != nil {
		w.logger.Warn("window read failed", "key", key, "err", err.Error())
		return nil
	}
	if !ok {
		return nil
	}

	var stamps []int64
	if err := json.Unmarshal(raw, &stamps); err != nil {
		w.logger.Warn("malformed window list dropped", "key", key)
		return nil
	}

	cutoff := w.now().Add(-window).UnixMilli()
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}
