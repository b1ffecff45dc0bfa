// deps.go declares the external collaborators the sponsorship rules consult.
// The chain, the protocol directory, and the explorer are out-of-process
// systems; they enter the policy package only through these interfaces.
package policy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ChainReader provides on-chain lookups. A transient failure is degraded by
// callers into a safe zero value; it never blocks traffic by itself.
type ChainReader interface {
	// TransactionCount returns the number of transactions the address has
	// sent (its nonce).
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
}

// Passport is an agent's accumulated sponsorship reputation.
type Passport struct {
	SponsorCount   int
	SuccessRateBps int
}

// Approval is the (protocol, agent) approval record.
type Approval struct {
	Revoked        bool
	DailyBudgetUSD float64
	SpentTodayUSD  float64
}

// Directory is the persistent protocol database. Approval and Whitelist
// are security-critical: callers fail closed when these return an error.
type Directory interface {
	// Approval returns the approval for (protocolID, agent), or nil when
	// none exists.
	Approval(ctx context.Context, protocolID string, agent common.Address) (*Approval, error)

	// ProtocolBudgetUSD returns the protocol's remaining prepaid budget.
	// ok=false means the protocol is unknown.
	ProtocolBudgetUSD(ctx context.Context, protocolID string) (budget float64, ok bool, err error)

	// Whitelist returns the protocol's allowed recipient contracts. An
	// empty list means the protocol does not restrict recipients.
	Whitelist(ctx context.Context, protocolID string) ([]string, error)

	// Passport returns the agent's gas passport, or nil when none exists.
	Passport(ctx context.Context, agent common.Address) (*Passport, error)
}

// SettlementRecorder is the write side of a Directory: it absorbs the
// spend and outcome of each executed sponsorship so budgets drain and
// passports accrue.
type SettlementRecorder interface {
	// RecordSpend charges a completed sponsorship against the agent's
	// daily approval window and the protocol's prepaid budget.
	RecordSpend(ctx context.Context, protocolID string, agent common.Address, costUSD float64) error

	// RecordOutcome appends one sponsorship outcome to the agent's
	// passport.
	RecordOutcome(ctx context.Context, agent common.Address, success bool) error
}

// AbuseChecker is the sybil/dust/blacklist pre-filter consulted by the
// legitimacy rule.
type AbuseChecker interface {
	// IsAbusive reports whether the agent trips any abuse signal, with a
	// human-readable reason when it does.
	IsAbusive(ctx context.Context, agent common.Address) (bool, string)
}
