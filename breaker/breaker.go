// Package breaker implements the economic circuit breaker that halts gas
// sponsorship before the reserve is exhausted. A single global breaker per
// process shares its state through the state store; transitions are driven
// by a moving gas-price average with hysteresis plus runway and reserve
// gates.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/store"
)

// StateKey is the well-known store key for the persisted breaker state.
const StateKey = "economic-breaker:state"

// stateTTL bounds how long a stale breaker record survives.
const stateTTL = time.Hour

// Config holds the breaker thresholds. The gap between MaxGasPriceGwei and
// GasPriceCloseGwei is the hysteresis band that prevents oscillation.
type Config struct {
	Enabled              bool
	MaxGasPriceGwei      float64
	MinRunwayHours       float64
	MinReserveETH        float64
	MinReserveUSDC       float64
	MaxBudgetUtilization float64
	GasPriceCloseGwei    float64
	GasPriceWindow       time.Duration
}

// DefaultConfig returns the built-in breaker thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxGasPriceGwei:      5,
		MinRunwayHours:       24,
		MinReserveETH:        0.1,
		MinReserveUSDC:       100,
		MaxBudgetUtilization: 90,
		GasPriceCloseGwei:    3,
		GasPriceWindow:       5 * time.Minute,
	}
}

// FromConfig maps the process configuration onto breaker thresholds.
func FromConfig(c *config.Config) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.BreakerEnabled
	cfg.MaxGasPriceGwei = c.BreakerMaxGasGwei
	cfg.MinRunwayHours = c.BreakerMinRunwayHours
	cfg.MinReserveETH = c.BreakerMinReserveETH
	cfg.MinReserveUSDC = c.BreakerMinReserveUSDC
	cfg.MaxBudgetUtilization = c.BreakerMaxBudgetPct
	return cfg
}

// GasSample is one observed gas price point.
type GasSample struct {
	Timestamp time.Time `json:"timestamp"`
	PriceGwei float64   `json:"priceGwei"`
}

// State is the persisted breaker record.
type State struct {
	IsOpen     bool        `json:"isOpen"`
	OpenReason string      `json:"openReason,omitempty"`
	OpenedAt   time.Time   `json:"openedAt,omitempty"`
	GasSamples []GasSample `json:"gasSamples"`
	LastRunway float64     `json:"lastRunway,omitempty"`
	LastCheck  time.Time   `json:"lastCheck"`
}

// ProtocolBudget is a per-protocol funding snapshot inspected during a
// check.
type ProtocolBudget struct {
	ProtocolID       string
	BalanceUSD       float64
	DailyBurnRateUSD float64
}

// CheckContext carries the optional live signals for one breaker check.
// Nil fields mean "not observed this round" and their gates are skipped.
type CheckContext struct {
	CurrentGasPriceGwei  *float64
	ReservesETH          *float64
	ReservesUSDC         *float64
	EstimatedRunwayHours *float64
	ProtocolBudgets      []ProtocolBudget
}

// Result is the outcome of one check.
type Result struct {
	Healthy       bool
	Open          bool
	Reason        string
	Warnings      []string
	GasAvgGwei    float64
	HasGasAverage bool
}

// Breaker evaluates economic health and persists its state across
// processes. A disabled breaker always reports healthy.
type Breaker struct {
	config Config
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates a Breaker over the given store.
func New(cfg Config, s store.Store) *Breaker {
	if cfg.GasPriceWindow <= 0 {
		cfg.GasPriceWindow = DefaultConfig().GasPriceWindow
	}
	if cfg.GasPriceCloseGwei <= 0 {
		cfg.GasPriceCloseGwei = DefaultConfig().GasPriceCloseGwei
	}
	return &Breaker{
		config: cfg,
		store:  s,
		logger: log.Default().Module("breaker"),
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }

// Check runs the full gate sequence: gas-price hysteresis, runway, native
// and stable reserves, and the per-protocol budget sweep. State transitions
// are persisted with a one-hour TTL.
func (b *Breaker) Check(ctx context.Context, cc CheckContext) Result {
	if !b.config.Enabled {
		return Result{Healthy: true}
	}

	now := b.now()
	state := b.loadState(ctx)
	wasOpen := state.IsOpen

	// Step 1: fold in the new gas sample and recompute the moving average.
	if cc.CurrentGasPriceGwei != nil {
		state.GasSamples = append(state.GasSamples, GasSample{
			Timestamp: now,
			PriceGwei: *cc.CurrentGasPriceGwei,
		})
	}
	state.GasSamples = trimSamples(state.GasSamples, now.Add(-b.config.GasPriceWindow))
	avg, hasAvg := movingAverage(state.GasSamples)

	res := Result{GasAvgGwei: avg, HasGasAverage: hasAvg}
	var openReason string

	// Step 2: gas-price hysteresis. Open above max; once open, the gas
	// gate only releases at or below the close threshold.
	gasHolds := false
	if wasOpen {
		if hasAvg && avg > b.config.GasPriceCloseGwei {
			gasHolds = true
			openReason = state.OpenReason
			if openReason == "" {
				openReason = fmt.Sprintf("gas price average %.2f gwei above close threshold %.2f", avg, b.config.GasPriceCloseGwei)
			}
		}
	} else if hasAvg && avg > b.config.MaxGasPriceGwei {
		openReason = fmt.Sprintf("gas price average %.2f gwei above maximum %.2f", avg, b.config.MaxGasPriceGwei)
	}

	// Step 3: runway gate.
	if cc.EstimatedRunwayHours != nil {
		state.LastRunway = *cc.EstimatedRunwayHours
		switch h := *cc.EstimatedRunwayHours; {
		case h < b.config.MinRunwayHours:
			openReason = fmt.Sprintf("estimated runway %.1fh below minimum %.1fh", h, b.config.MinRunwayHours)
		case h < 2*b.config.MinRunwayHours:
			res.Warnings = append(res.Warnings, fmt.Sprintf("runway %.1fh approaching minimum %.1fh", h, b.config.MinRunwayHours))
		}
	}

	// Step 4: reserve gates. Low ETH opens; low USDC only warns.
	if cc.ReservesETH != nil && *cc.ReservesETH < b.config.MinReserveETH {
		openReason = fmt.Sprintf("ETH reserve %.4f below minimum %.4f", *cc.ReservesETH, b.config.MinReserveETH)
	}
	if cc.ReservesUSDC != nil && *cc.ReservesUSDC < b.config.MinReserveUSDC {
		res.Warnings = append(res.Warnings, fmt.Sprintf("USDC reserve %.2f below minimum %.2f", *cc.ReservesUSDC, b.config.MinReserveUSDC))
	}

	// Step 5: protocol budget sweep. Budget exhaustion never opens the
	// breaker; it is the protocol's problem, not the reserve's.
	for _, pb := range cc.ProtocolBudgets {
		if pb.DailyBurnRateUSD > 0 {
			hoursLeft := pb.BalanceUSD / pb.DailyBurnRateUSD * 24
			if hoursLeft < 24 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("protocol %s budget critically low: %.1fh left", pb.ProtocolID, hoursLeft))
			}
		}
		if pb.BalanceUSD < 10 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("protocol %s budget depleted: $%.2f", pb.ProtocolID, pb.BalanceUSD))
		}
	}

	// Steps 2/6: apply the transition.
	forcedOpen := openReason != "" || gasHolds
	switch {
	case !wasOpen && forcedOpen:
		state.IsOpen = true
		state.OpenReason = openReason
		state.OpenedAt = now
		b.logger.Warn("breaker opened", "reason", openReason)
	case wasOpen && !forcedOpen:
		dur := now.Sub(state.OpenedAt)
		state.IsOpen = false
		state.OpenReason = ""
		state.OpenedAt = time.Time{}
		b.logger.Info("breaker closed", "openDuration", dur.String())
	case wasOpen && forcedOpen:
		// Stays open; refresh the reason if a harder gate fired.
		if openReason != "" {
			state.OpenReason = openReason
		}
	}

	state.LastCheck = now
	b.saveState(ctx, state)

	res.Open = state.IsOpen
	res.Healthy = !state.IsOpen
	res.Reason = state.OpenReason
	return res
}

// IsOpen reports the persisted breaker position without running the gates.
func (b *Breaker) IsOpen(ctx context.Context) bool {
	return b.loadState(ctx).IsOpen
}

// loadState reads the persisted state. A load failure must not make the
// breaker falsely report unhealthy, so failures yield a closed state.
func (b *Breaker) loadState(ctx context.Context) *State {
	raw, ok, err := b.store.Get(ctx, StateKey)
	if err != nil {
		b.logger.Warn("breaker state read failed, assuming closed", "err", err.Error())
		return &State{}
	}
	if !ok {
		return &State{}
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		b.logger.Warn("malformed breaker state, assuming closed", "err", err.Error())
		return &State{}
	}
	return &s
}

func (b *Breaker) saveState(ctx context.Context, s *State) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Error("marshal breaker state", "err", err.Error())
		return
	}
	if err := b.store.Set(ctx, StateKey, payload, stateTTL); err != nil {
		b.logger.Warn("breaker state write failed", "err", err.Error())
	}
}

// trimSamples drops samples at or before the cutoff, preserving order.
func trimSamples(samples []GasSample, cutoff time.Time) []GasSample {
	kept := samples[:0]
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}

// movingAverage returns the arithmetic mean of the sample prices.
func movingAverage(samples []GasSample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range samples {
		sum += s.PriceGwei
	}
	return sum / float64(len(samples)), true
}
