// reserve_mode.go builds the reserve-pipeline mode: it keeps the sponsoring
// reserve funded, tracks burn and runway, and raises the alarm when the
// balance falls through the critical threshold.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/aegis-labs/aegis/chain"
	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/reserve"
)

// ReserveModeID identifies the reserve-pipeline mode.
const ReserveModeID = "reserve-pipeline"

// DefaultReserveInterval is the reserve mode's tick period.
const DefaultReserveInterval = 5 * time.Minute

// BurnMetrics is the burn-and-runway slice of a reserve cycle observation.
type BurnMetrics struct {
	DailyBurnRateETH     float64 `json:"dailyBurnRateEth"`
	AvgPerSponsorshipETH float64 `json:"avgPerSponsorshipEth"`
	Sponsorships24h      int     `json:"sponsorships24h"`
	RunwayDays           float64 `json:"runwayDays"`
	ForecastedBurnRate7d float64 `json:"forecastedBurnRate7d"`
	ForecastedRunwayDays float64 `json:"forecastedRunwayDays"`
}

// ReserveModeDeps wire the reserve-pipeline mode.
type ReserveModeDeps struct {
	Cfg      *config.Config
	Reserves *reserve.Manager
	Chain    chain.Reader
	Bus      *EventBus
	Interval time.Duration
}

// NewReserveMode builds the reserve-pipeline mode: confidence 0.85, LIVE
// execution, 5 gwei ceiling.
func NewReserveMode(deps ReserveModeDeps) *Mode {
	logger := log.Default().Module(ReserveModeID)
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultReserveInterval
	}
	wallet := common.HexToAddress(deps.Cfg.WalletAddress)

	return &Mode{
		ID:       ReserveModeID,
		Name:     "Reserve Pipeline",
		Interval: interval,
		Baseline: core.AgentConfig{
			ConfidenceThreshold: 0.85,
			Mode:                core.ModeLive,
			MaxGasPriceGwei:     5,
			MaxSlippagePct:      1.0,
			Trigger:             core.TriggerScheduled,
		},

		// Seed the reserve record from live balances before the first
		// cycle so health starts from reality, not defaults.
		OnStart: func(ctx context.Context) error {
			balance, err := deps.Chain.BalanceETH(ctx, wallet)
			if err != nil {
				return fmt.Errorf("orchestrator: seed reserve balance: %w", err)
			}
			state := deps.Reserves.Update(ctx, func(s *reserve.State) {
				s.ETHBalance = balance
			})
			logger.Info("reserve state seeded",
				"ethBalance", state.ETHBalance, "healthScore", state.HealthScore)
			return nil
		},

		Observe: func(ctx context.Context) ([]core.Observation, error) {
			balance, err := deps.Chain.BalanceETH(ctx, wallet)
			if err != nil {
				return nil, err
			}
			state := deps.Reserves.Update(ctx, func(s *reserve.State) {
				s.ETHBalance = balance
			})

			obs := []core.Observation{{
				ID:        uuid.NewString(),
				Timestamp: time.Now(),
				Source:    core.SourceBlockchain,
				ChainID:   state.ChainID,
				Data:      state,
				Context:   "reserve state",
			}, {
				ID:        uuid.NewString(),
				Timestamp: time.Now(),
				Source:    core.SourceInternal,
				ChainID:   state.ChainID,
				Data: BurnMetrics{
					DailyBurnRateETH:     state.DailyBurnRateETH,
					AvgPerSponsorshipETH: state.AvgBurnPerSponsorshipETH,
					Sponsorships24h:      state.Sponsorships24h,
					RunwayDays:           state.RunwayDays,
					ForecastedBurnRate7d: state.ForecastedBurnRate7d,
					ForecastedRunwayDays: state.ForecastedRunwayDays,
				},
				Context: "burn rate and runway forecast",
			}}
			return obs, nil
		},

		Reason: func(_ context.Context, obs []core.Observation, _ []core.Memory) (*core.Decision, error) {
			state := reserveStateFrom(obs)
			if state == nil {
				return waitDecision("no reserve observation"), nil
			}

			if state.ETHBalance < state.CriticalThresholdETH {
				if deps.Bus != nil {
					deps.Bus.Publish(EventReserveEmergency, state.ETHBalance)
				}
				return &core.Decision{
					Action:     core.ActionAlertProtocol,
					Confidence: 0.99,
					Reasoning: fmt.Sprintf("reserve %.4f ETH below critical threshold %.4f ETH",
						state.ETHBalance, state.CriticalThresholdETH),
				}, nil
			}

			if state.ETHBalance < state.TargetReserveETH && state.USDCBalance > 0 {
				return &core.Decision{
					Action:     core.ActionSwapReserves,
					Confidence: 0.9,
					Reasoning: fmt.Sprintf("reserve %.4f ETH below target %.4f ETH, %.2f USDC available to swap",
						state.ETHBalance, state.TargetReserveETH, state.USDCBalance),
				}, nil
			}

			return waitDecision(fmt.Sprintf("reserve healthy at %.4f ETH (health %.0f)",
				state.ETHBalance, state.HealthScore)), nil
		},
	}
}

// reserveStateFrom finds the reserve snapshot among the cycle observations.
func reserveStateFrom(obs []core.Observation) *reserve.State {
	for _, o := range obs {
		if s, ok := o.Data.(*reserve.State); ok {
			return s
		}
	}
	return nil
}

func waitDecision(reason string) *core.Decision {
	return &core.Decision{Action: core.ActionWait, Confidence: 1, Reasoning: reason}
}
