// Package reserve maintains the shared reserve-state record: the single
// source of truth for the native/stable balances, burn rate, runway, and the
// derived health score that gates gas sponsorship. The record lives in the
// state store under one well-known key and is merged with defaults on every
// read so older records stay forward compatible.
package reserve

import (
	"time"
)

// StateKey is the well-known store key for the reserve record.
const StateKey = "aegis:reserve_state"

// maxBurnHistory bounds the burn snapshot list carried in the record.
const maxBurnHistory = 168 // one week of hourly snapshots

// ProtocolBudget is the per-protocol prepaid budget snapshot carried in the
// reserve record.
type ProtocolBudget struct {
	ProtocolID       string  `json:"protocolId"`
	BalanceUSD       float64 `json:"balanceUsd"`
	DailyBurnRateUSD float64 `json:"dailyBurnRateUsd"`
}

// BurnSnapshot is one entry of the bounded burn-rate history.
type BurnSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	RateETH   float64   `json:"rateEth"`
}

// State is the single logical reserve record. RunwayDays and HealthScore
// are derived on every update and never supplied by callers.
type State struct {
	ETHBalance  float64 `json:"ethBalance"`
	USDCBalance float64 `json:"usdcBalance"`
	ChainID     uint64  `json:"chainId"`

	AvgBurnPerSponsorshipETH float64 `json:"avgBurnPerSponsorshipEth"`
	Sponsorships24h          int     `json:"sponsorships24h"`
	DailyBurnRateETH         float64 `json:"dailyBurnRateEth"`
	RunwayDays               float64 `json:"runwayDays"`

	TargetReserveETH     float64 `json:"targetReserveEth"`
	CriticalThresholdETH float64 `json:"criticalThresholdEth"`
	HealthScore          float64 `json:"healthScore"`

	ProtocolBudgets []ProtocolBudget `json:"protocolBudgets"`

	LastUpdated   string `json:"lastUpdated"` // ISO 8601
	EmergencyMode bool   `json:"emergencyMode"`

	ForecastedBurnRate7d float64 `json:"forecastedBurnRate7d"`
	ForecastedRunwayDays float64 `json:"forecastedRunwayDays"`

	LastFarcasterPost string         `json:"lastFarcasterPost,omitempty"`
	BurnRateHistory   []BurnSnapshot `json:"burnRateHistory"`
}

// Defaults describes the configured baseline merged into every loaded
// record.
type Defaults struct {
	TargetReserveETH     float64
	CriticalThresholdETH float64
	ChainID              uint64
	Testnet              bool
}

// defaultState returns a fresh record carrying the configured targets.
func defaultState(d Defaults) *State {
	return &State{
		ChainID:              d.ChainID,
		TargetReserveETH:     d.TargetReserveETH,
		CriticalThresholdETH: d.CriticalThresholdETH,
		ProtocolBudgets:      []ProtocolBudget{},
		BurnRateHistory:      []BurnSnapshot{},
	}
}

// mergeDefaults fills fields that older records predate.
func mergeDefaults(s *State, d Defaults) {
	if s.TargetReserveETH == 0 {
		s.TargetReserveETH = d.TargetReserveETH
	}
	if s.CriticalThresholdETH == 0 {
		s.CriticalThresholdETH = d.CriticalThresholdETH
	}
	if s.ChainID == 0 {
		s.ChainID = d.ChainID
	}
	if s.ProtocolBudgets == nil {
		s.ProtocolBudgets = []ProtocolBudget{}
	}
	if s.BurnRateHistory == nil {
		s.BurnRateHistory = []BurnSnapshot{}
	}
}

// recompute refreshes the derived fields: runway from burn rate, forecast
// runway from forecast rate, and the health score.
func (s *State) recompute(testnet bool) {
	if s.DailyBurnRateETH > 0 {
		s.RunwayDays = s.ETHBalance / s.DailyBurnRateETH
	} else {
		s.RunwayDays = 0
	}
	if s.ForecastedBurnRate7d > 0 {
		s.ForecastedRunwayDays = s.ETHBalance / s.ForecastedBurnRate7d
	} else {
		s.ForecastedRunwayDays = 0
	}
	s.HealthScore = healthScore(s, testnet)

	if len(s.BurnRateHistory) > maxBurnHistory {
		s.BurnRateHistory = s.BurnRateHistory[len(s.BurnRateHistory)-maxBurnHistory:]
	}
}

// healthScore computes the weighted 0-100 composite: 40% balance vs the
// adaptive target (halved on testnets), 40% runway, 20% activity.
func healthScore(s *State, testnet bool) float64 {
	target := s.TargetReserveETH
	if testnet {
		target /= 2
	}

	var balanceScore float64
	if target > 0 {
		ratio := s.ETHBalance / target
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		balanceScore = ratio * 40
	}

	score := balanceScore + runwayScore(s.RunwayDays) + activityScore(s.Sponsorships24h, s.ETHBalance)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// runwayScore maps runway days onto the 0-40 piecewise scale.
func runwayScore(days float64) float64 {
	switch {
	case days >= 30:
		return 40
	case days >= 7:
		return 25 + (days-7)/(30-7)*15
	case days >= 1:
		return 10 + (days-1)/(7-1)*15
	case days > 0:
		return days * 10
	default:
		return 0
	}
}

// activityScore maps trailing-24h sponsorship count onto the 0-20 piecewise
// scale. A zero count still earns a floor score while a balance remains.
func activityScore(count int, balance float64) float64 {
	switch {
	case count >= 50:
		return 20
	case count >= 10:
		return 12 + float64(count-10)/40*8
	case count >= 1:
		return 5 + float64(count-1)/9*7
	case balance > 0:
		return 3
	default:
		return 0
	}
}
