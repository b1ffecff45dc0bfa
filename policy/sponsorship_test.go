package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/ratelimit"
	"github.com/aegis-labs/aegis/store"
)

var (
	testAgent  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTarget = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeChain returns a fixed nonce, or an error when set.
type fakeChain struct {
	nonce uint64
	err   error
}

func (f *fakeChain) TransactionCount(context.Context, common.Address) (uint64, error) {
	return f.nonce, f.err
}

// fakeDirectory is an in-memory protocol database for tests.
type fakeDirectory struct {
	approval     *Approval
	approvalErr  error
	budget       float64
	budgetOK     bool
	budgetErr    error
	whitelist    []string
	whitelistErr error
	passport     *Passport
	passportErr  error
}

func (f *fakeDirectory) Approval(context.Context, string, common.Address) (*Approval, error) {
	return f.approval, f.approvalErr
}

func (f *fakeDirectory) ProtocolBudgetUSD(context.Context, string) (float64, bool, error) {
	return f.budget, f.budgetOK, f.budgetErr
}

func (f *fakeDirectory) Whitelist(context.Context, string) ([]string, error) {
	return f.whitelist, f.whitelistErr
}

func (f *fakeDirectory) Passport(context.Context, common.Address) (*Passport, error) {
	return f.passport, f.passportErr
}

// fakeAbuse flags nothing unless told to.
type fakeAbuse struct {
	abusive bool
	reason  string
}

func (f *fakeAbuse) IsAbusive(context.Context, common.Address) (bool, string) {
	return f.abusive, f.reason
}

type harness struct {
	deps    SponsorshipDeps
	chain   *fakeChain
	dir     *fakeDirectory
	abuse   *fakeAbuse
	windows *ratelimit.SlidingWindow
	ms      *store.MemoryStore
	engine  *Engine
}

// newHarness builds a sponsorship rule set whose collaborators all succeed,
// so each test perturbs exactly one of them.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chain: &fakeChain{nonce: 20},
		dir:   &fakeDirectory{budget: 100, budgetOK: true},
		abuse: &fakeAbuse{},
		ms:    store.NewMemoryStore(),
	}
	h.windows = ratelimit.NewSlidingWindow(h.ms)

	cfg := &config.Config{
		NetworkID:                 config.NetworkBase,
		ReserveThresholdETH:       config.DefaultReserveThresholdETH,
		MaxSponsorshipsPerUserDay: config.DefaultMaxSponsorshipsPerUserDay,
		MaxSponsorshipsPerMinute:  config.DefaultMaxSponsorshipsPerMinute,
		MaxPerProtocolPerMinute:   config.DefaultMaxPerProtocolPerMinute,
		MaxSponsorshipCostUSD:     config.DefaultMaxSponsorshipCostUSD,
		GasPriceMaxGwei:           config.DefaultGasPriceMaxGwei,
		PassportMinSponsorships:   config.DefaultPassportMinSponsorships,
		PassportMinSuccessBps:     config.DefaultPassportMinSuccessBps,
	}
	h.deps = SponsorshipDeps{
		Cfg:       cfg,
		Chain:     h.chain,
		Directory: h.dir,
		Abuse:     h.abuse,
		Windows:   h.windows,
		ReserveBalanceETH: func(context.Context) float64 {
			return 0.5
		},
	}
	h.engine = NewEngine(SponsorshipRules(h.deps))
	return h
}

func sponsorDecision() *core.Decision {
	return &core.Decision{
		Action:     core.ActionSponsorTransaction,
		Confidence: 0.95,
		Reasoning:  "sponsor test transaction",
		Sponsor: &core.SponsorParams{
			AgentWallet:      testAgent,
			ProtocolID:       "proto-1",
			EstimatedCostUSD: 0.10,
			MaxGasUnits:      100_000,
		},
	}
}

func sponsorConfig() *core.AgentConfig {
	return &core.AgentConfig{
		ConfidenceThreshold: 0.8,
		Mode:                core.ModeLive,
		MaxGasPriceGwei:     2,
		CurrentGasPriceGwei: 0.5,
	}
}

func TestSponsorshipHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res := h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
	if !res.Passed {
		t.Fatalf("valid sponsorship rejected: %v", res.Errors)
	}
	if len(res.AppliedRules) != 10 {
		t.Fatalf("AppliedRules = %v, want all 10", res.AppliedRules)
	}

	// Passing consumed one unit of each sliding-window quota.
	for _, key := range []string{
		ratelimit.AgentDayKey(testAgent.Hex()),
		ratelimit.GlobalMinuteKey,
		ratelimit.ProtocolMinuteKey("proto-1"),
	} {
		if n := h.windows.Count(ctx, key, 24*time.Hour); n != 1 {
			t.Errorf("counter %s = %d, want 1", key, n)
		}
	}
}

func TestSponsorshipRulesIgnoreOtherActions(t *testing.T) {
	h := newHarness(t)
	// Break every collaborator: a WAIT decision must still pass.
	h.chain.err = errors.New("down")
	h.dir.budgetOK = false
	h.abuse.abusive = true

	res := h.engine.Validate(context.Background(), waitDecision(), sponsorConfig())
	if !res.Passed {
		t.Fatalf("WAIT decision rejected by sponsorship rules: %v", res.Errors)
	}
}

func TestGasPriceCeilingRejectsWithoutConsumingQuota(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	cfg := sponsorConfig()
	cfg.CurrentGasPriceGwei = 3.0

	res := h.engine.Validate(ctx, sponsorDecision(), cfg)
	if res.Passed {
		t.Fatal("sponsorship passed with gas above the ceiling")
	}
	found := false
	for _, e := range res.Errors {
		if strings.HasPrefix(e, "[gas-price-optimization]") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Errors = %v, want gas-price-optimization", res.Errors)
	}

	// The rejection must not have consumed any rate-limit quota.
	for _, key := range []string{
		ratelimit.AgentDayKey(testAgent.Hex()),
		ratelimit.GlobalMinuteKey,
		ratelimit.ProtocolMinuteKey("proto-1"),
	} {
		if n := h.windows.Count(ctx, key, 24*time.Hour); n != 0 {
			t.Errorf("counter %s = %d after rejection, want 0", key, n)
		}
	}
}

func TestGasPriceAtExactCeilingRejects(t *testing.T) {
	h := newHarness(t)
	cfg := sponsorConfig()
	cfg.CurrentGasPriceGwei = cfg.MaxGasPriceGwei

	res := h.engine.Validate(context.Background(), sponsorDecision(), cfg)
	if res.Passed {
		t.Fatal("sponsorship passed with gas exactly at the ceiling")
	}
}

func TestLegitimacyLowNonceNoPassport(t *testing.T) {
	h := newHarness(t)
	h.chain.nonce = 2

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("low-history agent without passport passed")
	}
	if !strings.HasPrefix(res.Errors[0], "[agent-legitimacy]") {
		t.Fatalf("Errors = %v", res.Errors)
	}
}

func TestLegitimacyPassportRescuesNewWallet(t *testing.T) {
	h := newHarness(t)
	h.chain.nonce = 0
	h.dir.passport = &Passport{SponsorCount: 25, SuccessRateBps: 9800}

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if !res.Passed {
		t.Fatalf("qualifying passport did not rescue a new wallet: %v", res.Errors)
	}
}

func TestLegitimacyWeakPassportDoesNotQualify(t *testing.T) {
	h := newHarness(t)
	h.chain.nonce = 0
	h.dir.passport = &Passport{SponsorCount: 25, SuccessRateBps: 9000}

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("passport below the success floor qualified")
	}
}

func TestLegitimacyChainErrorDegradesToPassportPath(t *testing.T) {
	h := newHarness(t)
	h.chain.err = errors.New("rpc timeout")
	h.dir.passport = &Passport{SponsorCount: 25, SuccessRateBps: 9800}

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if !res.Passed {
		t.Fatalf("chain outage with qualifying passport rejected: %v", res.Errors)
	}
}

func TestLegitimacyAbuseSignalRejects(t *testing.T) {
	h := newHarness(t)
	h.abuse.abusive = true
	h.abuse.reason = "sybil signal: 12 sponsorships in 24h"

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("abusive agent passed")
	}
	if !strings.Contains(res.Errors[0], "abuse detected") {
		t.Fatalf("Errors = %v", res.Errors)
	}
}

func TestApprovalNotRequiredByDefault(t *testing.T) {
	h := newHarness(t)
	h.dir.approvalErr = errors.New("db down")

	// With approval not required, the rule is N/A and the outage is moot.
	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if !res.Passed {
		t.Fatalf("approval rule applied while disabled: %v", res.Errors)
	}
}

func TestApprovalFailsClosedOnDirectoryError(t *testing.T) {
	h := newHarness(t)
	h.deps.Cfg.RequireAgentApproval = true
	h.engine = NewEngine(SponsorshipRules(h.deps))
	h.dir.approvalErr = errors.New("db down")

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("approval database outage did not fail closed")
	}
	if !strings.Contains(res.Errors[0], "approval database unavailable") {
		t.Fatalf("Errors = %v", res.Errors)
	}
}

func TestApprovalChecks(t *testing.T) {
	tests := []struct {
		name     string
		approval *Approval
		wantPass bool
		wantMsg  string
	}{
		{"missing", nil, false, "not approved"},
		{"revoked", &Approval{Revoked: true, DailyBudgetUSD: 10}, false, "revoked"},
		{"over budget", &Approval{DailyBudgetUSD: 1, SpentTodayUSD: 0.95}, false, "daily budget exceeded"},
		{"within budget", &Approval{DailyBudgetUSD: 10, SpentTodayUSD: 1}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.deps.Cfg.RequireAgentApproval = true
			h.engine = NewEngine(SponsorshipRules(h.deps))
			h.dir.approval = tt.approval

			res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
			if res.Passed != tt.wantPass {
				t.Fatalf("Passed = %v, want %v (%v)", res.Passed, tt.wantPass, res.Errors)
			}
			if !tt.wantPass && !strings.Contains(res.Errors[0], tt.wantMsg) {
				t.Fatalf("Errors = %v, want %q", res.Errors, tt.wantMsg)
			}
		})
	}
}

func TestProtocolBudget(t *testing.T) {
	h := newHarness(t)
	h.dir.budget = 0.05 // below the 0.10 estimated cost

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("underfunded protocol passed")
	}

	h = newHarness(t)
	h.dir.budgetOK = false
	res = h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("unknown protocol passed")
	}
	if !strings.Contains(res.Errors[0], "no budget found") {
		t.Fatalf("Errors = %v", res.Errors)
	}
}

func TestAgentReserveFloor(t *testing.T) {
	h := newHarness(t)
	h.deps.ReserveBalanceETH = func(context.Context) float64 { return 0.01 }
	h.engine = NewEngine(SponsorshipRules(h.deps))

	res := h.engine.Validate(context.Background(), sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("sponsorship passed with the reserve below threshold")
	}
	if !strings.HasPrefix(res.Errors[0], "[agent-reserve]") {
		t.Fatalf("Errors = %v", res.Errors)
	}
}

func TestDailyCapPerUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < h.deps.Cfg.MaxSponsorshipsPerUserDay; i++ {
		res := h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
		if !res.Passed {
			t.Fatalf("sponsorship %d rejected: %v", i, res.Errors)
		}
	}
	res := h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
	if res.Passed {
		t.Fatal("sponsorship over the daily cap passed")
	}
	found := false
	for _, e := range res.Errors {
		if strings.HasPrefix(e, "[daily-cap-per-user]") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Errors = %v, want daily-cap-per-user", res.Errors)
	}
}

func TestDailyCapIsPerAgent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < h.deps.Cfg.MaxSponsorshipsPerUserDay; i++ {
		h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
	}

	other := sponsorDecision()
	other.Sponsor.AgentWallet = common.HexToAddress("0x3333333333333333333333333333333333333333")
	res := h.engine.Validate(ctx, other, sponsorConfig())
	if !res.Passed {
		t.Fatalf("second agent blocked by first agent's cap: %v", res.Errors)
	}
}

func TestCostCap(t *testing.T) {
	h := newHarness(t)
	d := sponsorDecision()
	d.Sponsor.EstimatedCostUSD = 0.75

	res := h.engine.Validate(context.Background(), d, sponsorConfig())
	if res.Passed {
		t.Fatal("sponsorship over the cost cap passed")
	}
	found := false
	for _, e := range res.Errors {
		if strings.HasPrefix(e, "[cost-cap]") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Errors = %v, want cost-cap", res.Errors)
	}
}

func TestWhitelist(t *testing.T) {
	ctx := context.Background()

	t.Run("empty list passes", func(t *testing.T) {
		h := newHarness(t)
		res := h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
		if !res.Passed {
			t.Fatalf("unrestricted protocol rejected: %v", res.Errors)
		}
	})

	t.Run("match is case-insensitive", func(t *testing.T) {
		h := newHarness(t)
		h.dir.whitelist = []string{strings.ToUpper(testTarget.Hex())}
		d := sponsorDecision()
		d.Sponsor.TargetContract = testTarget
		res := h.engine.Validate(ctx, d, sponsorConfig())
		if !res.Passed {
			t.Fatalf("whitelisted target rejected: %v", res.Errors)
		}
	})

	t.Run("non-member rejected", func(t *testing.T) {
		h := newHarness(t)
		h.dir.whitelist = []string{"0x4444444444444444444444444444444444444444"}
		d := sponsorDecision()
		d.Sponsor.TargetContract = testTarget
		res := h.engine.Validate(ctx, d, sponsorConfig())
		if res.Passed {
			t.Fatal("non-whitelisted target passed")
		}
	})

	t.Run("restricted protocol requires a target", func(t *testing.T) {
		h := newHarness(t)
		h.dir.whitelist = []string{testTarget.Hex()}
		res := h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
		if res.Passed {
			t.Fatal("restricted protocol passed without a target contract")
		}
	})

	t.Run("fails closed on directory error", func(t *testing.T) {
		h := newHarness(t)
		h.dir.whitelistErr = errors.New("db down")
		res := h.engine.Validate(ctx, sponsorDecision(), sponsorConfig())
		if res.Passed {
			t.Fatal("whitelist outage did not fail closed")
		}
	})
}
