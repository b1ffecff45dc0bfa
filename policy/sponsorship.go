// sponsorship.go declares the ordered sponsorship rule set. Rules that are
// not applicable to non-sponsorship decisions pass with "N/A". The three
// sliding-window rules only consume quota when the whole decision passes.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/ratelimit"
)

// minLegitimateTxCount is the on-chain history floor below which an agent
// needs a qualifying gas passport.
const minLegitimateTxCount = 5

// SponsorshipDeps bundles the collaborators the sponsorship rules need.
type SponsorshipDeps struct {
	Cfg       *config.Config
	Chain     ChainReader
	Directory Directory
	Abuse     AbuseChecker
	Windows   *ratelimit.SlidingWindow

	// ReserveBalanceETH returns the sponsoring agent's own native balance.
	ReserveBalanceETH func(ctx context.Context) float64
}

// notApplicable is the pass result for non-sponsorship decisions.
func notApplicable() RuleResult {
	return RuleResult{Passed: true, Message: "N/A"}
}

// SponsorshipRules builds the ordered rule set of the gas-sponsorship
// policy. Iteration order is part of the contract.
func SponsorshipRules(deps SponsorshipDeps) []Rule {
	logger := log.Default().Module("policy")

	return []Rule{
		{
			Name:        "agent-legitimacy",
			Description: "agent has on-chain history or a qualifying gas passport, and trips no abuse signal",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				if abusive, reason := deps.Abuse.IsAbusive(ctx, d.Sponsor.AgentWallet); abusive {
					return RuleResult{Passed: false, Message: "abuse detected: " + reason}
				}

				txCount, err := deps.Chain.TransactionCount(ctx, d.Sponsor.AgentWallet)
				if err != nil {
					// Transient chain failure: degrade to zero history and
					// let the passport path decide.
					logger.Warn("tx count lookup failed", "err", err.Error())
					txCount = 0
				}
				if txCount >= minLegitimateTxCount {
					return RuleResult{Passed: true}
				}

				passport, err := deps.Directory.Passport(ctx, d.Sponsor.AgentWallet)
				if err == nil && passport != nil &&
					passport.SponsorCount >= deps.Cfg.PassportMinSponsorships &&
					passport.SuccessRateBps >= deps.Cfg.PassportMinSuccessBps {
					return RuleResult{Passed: true}
				}
				return RuleResult{Passed: false, Message: fmt.Sprintf("agent has %d transactions (minimum %d) and no qualifying gas passport", txCount, minLegitimateTxCount)}
			},
		},
		{
			Name:        "approved-agent",
			Description: "agent is approved by the protocol and within its daily budget",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() || !deps.Cfg.RequireAgentApproval {
					return notApplicable()
				}
				approval, err := deps.Directory.Approval(ctx, d.Sponsor.ProtocolID, d.Sponsor.AgentWallet)
				if err != nil {
					// Security-critical dependency: fail closed.
					return RuleResult{Passed: false, Message: "approval database unavailable"}
				}
				if approval == nil {
					return RuleResult{Passed: false, Message: "agent is not approved by protocol " + d.Sponsor.ProtocolID}
				}
				if approval.Revoked {
					return RuleResult{Passed: false, Message: "agent approval was revoked"}
				}
				if approval.SpentTodayUSD+d.Sponsor.EstimatedCostUSD > approval.DailyBudgetUSD {
					return RuleResult{Passed: false, Message: fmt.Sprintf("approval daily budget exceeded: spent $%.2f + $%.2f > $%.2f", approval.SpentTodayUSD, d.Sponsor.EstimatedCostUSD, approval.DailyBudgetUSD)}
				}
				return RuleResult{Passed: true}
			},
		},
		{
			Name:        "protocol-budget",
			Description: "protocol has prepaid budget covering the estimated cost",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				budget, ok, err := deps.Directory.ProtocolBudgetUSD(ctx, d.Sponsor.ProtocolID)
				if err != nil || !ok {
					return RuleResult{Passed: false, Message: "no budget found for protocol " + d.Sponsor.ProtocolID}
				}
				if budget < d.Sponsor.EstimatedCostUSD {
					return RuleResult{Passed: false, Message: fmt.Sprintf("protocol budget $%.2f below estimated cost $%.2f", budget, d.Sponsor.EstimatedCostUSD)}
				}
				return RuleResult{Passed: true}
			},
		},
		{
			Name:        "agent-reserve",
			Description: "sponsoring reserve holds enough native balance",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				balance := deps.ReserveBalanceETH(ctx)
				if balance < deps.Cfg.ReserveThresholdETH {
					return RuleResult{Passed: false, Message: fmt.Sprintf("reserve %.4f ETH below threshold %.4f", balance, deps.Cfg.ReserveThresholdETH)}
				}
				return RuleResult{Passed: true}
			},
		},
		{
			Name:        "daily-cap-per-user",
			Description: "agent stays under the daily sponsorship cap",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				key := ratelimit.AgentDayKey(d.Sponsor.AgentWallet.Hex())
				if !deps.Windows.Allow(ctx, key, 24*time.Hour, deps.Cfg.MaxSponsorshipsPerUserDay) {
					return RuleResult{Passed: false, Message: fmt.Sprintf("agent reached the daily cap of %d sponsorships", deps.Cfg.MaxSponsorshipsPerUserDay)}
				}
				return RuleResult{Passed: true, OnPass: func(ctx context.Context) {
					deps.Windows.Record(ctx, key, 24*time.Hour)
				}}
			},
		},
		{
			Name:        "global-rate-limit",
			Description: "system stays under the global per-minute sponsorship cap",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				if !deps.Windows.Allow(ctx, ratelimit.GlobalMinuteKey, time.Minute, deps.Cfg.MaxSponsorshipsPerMinute) {
					return RuleResult{Passed: false, Message: fmt.Sprintf("global rate limit of %d sponsorships per minute reached", deps.Cfg.MaxSponsorshipsPerMinute)}
				}
				return RuleResult{Passed: true, OnPass: func(ctx context.Context) {
					deps.Windows.Record(ctx, ratelimit.GlobalMinuteKey, time.Minute)
				}}
			},
		},
		{
			Name:        "protocol-rate-limit",
			Description: "protocol stays under its per-minute sponsorship cap",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				key := ratelimit.ProtocolMinuteKey(d.Sponsor.ProtocolID)
				if !deps.Windows.Allow(ctx, key, time.Minute, deps.Cfg.MaxPerProtocolPerMinute) {
					return RuleResult{Passed: false, Message: fmt.Sprintf("protocol %s reached its limit of %d sponsorships per minute", d.Sponsor.ProtocolID, deps.Cfg.MaxPerProtocolPerMinute)}
				}
				return RuleResult{Passed: true, OnPass: func(ctx context.Context) {
					deps.Windows.Record(ctx, key, time.Minute)
				}}
			},
		},
		{
			Name:        "cost-cap",
			Description: "estimated cost stays under the per-sponsorship ceiling",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				if d.Sponsor.EstimatedCostUSD > deps.Cfg.MaxSponsorshipCostUSD {
					return RuleResult{Passed: false, Message: fmt.Sprintf("estimated cost $%.2f exceeds cap $%.2f", d.Sponsor.EstimatedCostUSD, deps.Cfg.MaxSponsorshipCostUSD)}
				}
				return RuleResult{Passed: true}
			},
		},
		{
			Name:        "contract-whitelist",
			Description: "target contract is on the protocol's whitelist when one exists",
			Severity:    SeverityError,
			Validate: func(ctx context.Context, d *core.Decision, _ *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				whitelist, err := deps.Directory.Whitelist(ctx, d.Sponsor.ProtocolID)
				if err != nil {
					// Security-critical dependency: fail closed.
					return RuleResult{Passed: false, Message: "whitelist database unavailable"}
				}
				if len(whitelist) == 0 {
					return RuleResult{Passed: true}
				}
				if !d.Sponsor.HasTarget() {
					return RuleResult{Passed: false, Message: "protocol restricts recipients but decision names no target contract"}
				}
				target := strings.ToLower(d.Sponsor.TargetContract.Hex())
				for _, allowed := range whitelist {
					if strings.ToLower(allowed) == target {
						return RuleResult{Passed: true}
					}
				}
				return RuleResult{Passed: false, Message: "target contract " + d.Sponsor.TargetContract.Hex() + " is not whitelisted"}
			},
		},
		{
			Name:        "gas-price-optimization",
			Description: "current gas price stays under the configured ceiling",
			Severity:    SeverityError,
			Validate: func(_ context.Context, d *core.Decision, cfg *core.AgentConfig) RuleResult {
				if !d.IsSponsorship() {
					return notApplicable()
				}
				if cfg.CurrentGasPriceGwei >= cfg.MaxGasPriceGwei {
					return RuleResult{Passed: false, Message: fmt.Sprintf("gas price %.2f gwei at or above maximum %.2f", cfg.CurrentGasPriceGwei, cfg.MaxGasPriceGwei)}
				}
				return RuleResult{Passed: true}
			},
		},
	}
}
