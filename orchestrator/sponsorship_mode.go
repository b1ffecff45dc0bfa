// sponsorship_mode.go builds the gas-sponsorship mode. Observation is
// guarded by reserve health: emergency mode or a health score under the
// skip threshold produces an empty observation set, and low (but workable)
// health tightens the confidence threshold.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/reserve"
)

// SponsorshipModeID identifies the gas-sponsorship mode.
const SponsorshipModeID = "gas-sponsorship"

// DefaultSponsorshipInterval is the gas-sponsorship mode's tick period.
const DefaultSponsorshipInterval = time.Minute

// adaptiveHealthFloor is the health score under which the confidence
// threshold is raised.
const adaptiveHealthFloor = 50

// adaptiveConfidence is the tightened threshold under low health.
const adaptiveConfidence = 0.90

// Opportunity is one sponsorship candidate surfaced by an observer.
type Opportunity struct {
	AgentWallet      common.Address
	ProtocolID       string
	EstimatedCostUSD float64
	MaxGasUnits      uint64
	TargetContract   common.Address
	Context          string
}

// OpportunityObserver surfaces sponsorship candidates from an external
// source (API poll, webhook backlog, low-gas watchlist).
type OpportunityObserver func(ctx context.Context) ([]Opportunity, error)

// SponsorshipModeDeps wire the gas-sponsorship mode.
type SponsorshipModeDeps struct {
	Cfg       *config.Config
	Reserves  *reserve.Manager
	Observers []OpportunityObserver
	Interval  time.Duration
}

// NewSponsorshipMode builds the gas-sponsorship mode: confidence 0.80, LIVE
// execution, 2 gwei ceiling.
func NewSponsorshipMode(deps SponsorshipModeDeps) *Mode {
	logger := log.Default().Module(SponsorshipModeID)
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultSponsorshipInterval
	}

	return &Mode{
		ID:       SponsorshipModeID,
		Name:     "Gas Sponsorship",
		Interval: interval,
		Baseline: core.AgentConfig{
			ConfidenceThreshold: 0.80,
			Mode:                core.ModeLive,
			MaxGasPriceGwei:     deps.Cfg.GasPriceMaxGwei,
			Trigger:             core.TriggerScheduled,
		},

		Observe: func(ctx context.Context) ([]core.Observation, error) {
			state := deps.Reserves.Load(ctx)
			if state.EmergencyMode {
				logger.Warn("emergency mode, skipping observation")
				return nil, nil
			}
			if state.HealthScore < deps.Cfg.HealthSkipThreshold {
				logger.Warn("reserve health below skip threshold, skipping observation",
					"healthScore", state.HealthScore, "threshold", deps.Cfg.HealthSkipThreshold)
				return nil, nil
			}

			var obs []core.Observation
			for _, observer := range deps.Observers {
				opps, err := observer(ctx)
				if err != nil {
					// One broken source must not blind the others.
					logger.Warn("opportunity observer failed", "err", err.Error())
					continue
				}
				for _, opp := range opps {
					obs = append(obs, core.Observation{
						ID:        uuid.NewString(),
						Timestamp: time.Now(),
						Source:    core.SourceAPI,
						Data:      opp,
						Context:   opp.Context,
					})
				}
			}
			return obs, nil
		},

		Reason: func(_ context.Context, obs []core.Observation, _ []core.Memory) (*core.Decision, error) {
			for _, o := range obs {
				opp, ok := o.Data.(Opportunity)
				if !ok {
					continue
				}
				return &core.Decision{
					Action:     core.ActionSponsorTransaction,
					Confidence: 0.95,
					Reasoning: fmt.Sprintf("sponsorship opportunity for %s on %s (est. $%.4f)",
						opp.AgentWallet.Hex(), opp.ProtocolID, opp.EstimatedCostUSD),
					Sponsor: &core.SponsorParams{
						AgentWallet:      opp.AgentWallet,
						ProtocolID:       opp.ProtocolID,
						EstimatedCostUSD: opp.EstimatedCostUSD,
						MaxGasUnits:      opp.MaxGasUnits,
						TargetContract:   opp.TargetContract,
					},
				}, nil
			}
			return waitDecision("no sponsorship opportunities"), nil
		},

		// The only runtime tightening of an AgentConfig: low health (but
		// not emergency) raises the confidence bar.
		AdaptConfig: func(ctx context.Context, baseline *core.AgentConfig) *core.AgentConfig {
			state := deps.Reserves.Load(ctx)
			if !state.EmergencyMode && state.HealthScore < adaptiveHealthFloor {
				logger.Info("low reserve health, tightening confidence threshold",
					"healthScore", state.HealthScore, "threshold", adaptiveConfidence)
				baseline.ConfidenceThreshold = adaptiveConfidence
			}
			return baseline
		},
	}
}
