// manager.go provides load/update access to the reserve record. Writers are
// lock-free: concurrent updates may lose, which is acceptable because every
// field is re-derived from shared external signals on the next update.
package reserve

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/store"
)

// Manager reads and writes the reserve record in the state store.
type Manager struct {
	store    store.Store
	defaults Defaults
	logger   *log.Logger
	now      func() time.Time
}

// NewManager creates a Manager with the given configured defaults.
func NewManager(s store.Store, defaults Defaults) *Manager {
	return &Manager{
		store:    s,
		defaults: defaults,
		logger:   log.Default().Module("reserve"),
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Load returns the current reserve record merged with defaults. A missing
// or unreadable record yields a fresh default record, never an error to the
// caller.
func (m *Manager) Load(ctx context.Context) *State {
	raw, ok, err := m.store.Get(ctx, StateKey)
	if err != nil {
		m.logger.Warn("reserve read failed, using defaults", "err", err.Error())
		return defaultState(m.defaults)
	}
	if !ok {
		return defaultState(m.defaults)
	}

	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		m.logger.Warn("malformed reserve record, using defaults", "err", err.Error())
		return defaultState(m.defaults)
	}
	mergeDefaults(&s, m.defaults)
	return &s
}

// Update loads the record, applies mutate, recomputes the derived fields
// (runway, forecast runway, health score), stamps lastUpdated, and writes
// the record back. The updated record is returned.
func (m *Manager) Update(ctx context.Context, mutate func(*State)) *State {
	s := m.Load(ctx)
	if mutate != nil {
		mutate(s)
	}
	s.recompute(m.defaults.Testnet)
	s.LastUpdated = m.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(s)
	if err != nil {
		m.logger.Error("marshal reserve record", "err", err.Error())
		return s
	}
	if err := m.store.Set(ctx, StateKey, payload, 0); err != nil {
		m.logger.Warn("reserve write failed", "err", err.Error())
	}
	return s
}

// RecordBurnSnapshot appends a burn-rate snapshot, refreshes the 7-day
// forecast from the snapshot history, and recomputes the derived fields in
// one update.
func (m *Manager) RecordBurnSnapshot(ctx context.Context, rateETH float64) *State {
	return m.Update(ctx, func(s *State) {
		s.DailyBurnRateETH = rateETH
		s.BurnRateHistory = append(s.BurnRateHistory, BurnSnapshot{
			Timestamp: m.now().UTC(),
			RateETH:   rateETH,
		})
		s.ForecastedBurnRate7d = forecastBurnRate(s.BurnRateHistory, m.now().UTC())
	})
}

// forecastBurnRate averages the snapshots from the trailing seven days. An
// empty window forecasts zero.
func forecastBurnRate(history []BurnSnapshot, now time.Time) float64 {
	cutoff := now.Add(-7 * 24 * time.Hour)
	var sum float64
	var n int
	for _, snap := range history {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		sum += snap.RateETH
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
