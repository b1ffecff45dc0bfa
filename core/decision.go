// decision.go defines the Decision record produced once per agent cycle.
// A Decision carries a closed action kind plus action-specific parameters;
// validators pattern-match on the kind exhaustively.
package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ActionKind identifies what a Decision proposes to do.
type ActionKind string

// The closed set of decision actions.
const (
	ActionSponsorTransaction ActionKind = "SPONSOR_TRANSACTION"
	ActionSwapReserves       ActionKind = "SWAP_RESERVES"
	ActionAlertProtocol      ActionKind = "ALERT_PROTOCOL"
	ActionWait               ActionKind = "WAIT"
)

// Valid reports whether the kind is a member of the closed action set.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionSponsorTransaction, ActionSwapReserves, ActionAlertProtocol, ActionWait:
		return true
	default:
		return false
	}
}

// SponsorParams are the action-specific parameters for a
// SPONSOR_TRANSACTION decision.
type SponsorParams struct {
	// AgentWallet is the end-user wallet whose transaction is sponsored.
	AgentWallet common.Address `json:"agentWallet"`

	// ProtocolID identifies the prepaying protocol.
	ProtocolID string `json:"protocolId"`

	// EstimatedCostUSD is the projected sponsorship cost. Never negative.
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`

	// MaxGasUnits caps the gas the sponsored operation may consume.
	MaxGasUnits uint64 `json:"maxGasUnits"`

	// TargetContract is the optional contract the sponsored transaction
	// calls. Zero address means unset.
	TargetContract common.Address `json:"targetContract,omitempty"`
}

// HasTarget reports whether a target contract was supplied.
func (p *SponsorParams) HasTarget() bool {
	return p.TargetContract != (common.Address{})
}

// Decision is the immutable outcome of one reason step. Exactly one of the
// parameter fields is populated, matching Action.
type Decision struct {
	// Action is the tagged kind of this decision.
	Action ActionKind `json:"action"`

	// Confidence is the reasoner's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Reasoning is the free-text rationale.
	Reasoning string `json:"reasoning"`

	// Sponsor holds the parameters when Action is SPONSOR_TRANSACTION.
	Sponsor *SponsorParams `json:"sponsor,omitempty"`
}

// Validate checks structural correctness of the decision.
func (d *Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("core: unknown action kind %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("core: confidence %v outside [0,1]", d.Confidence)
	}
	if d.Action == ActionSponsorTransaction {
		if d.Sponsor == nil {
			return fmt.Errorf("core: sponsor decision missing parameters")
		}
		if d.Sponsor.ProtocolID == "" {
			return fmt.Errorf("core: sponsor decision missing protocol id")
		}
		if d.Sponsor.EstimatedCostUSD < 0 {
			return fmt.Errorf("core: negative estimated cost")
		}
		if d.Sponsor.MaxGasUnits == 0 {
			return fmt.Errorf("core: max gas units must be positive")
		}
	}
	return nil
}

// IsSponsorship reports whether the decision proposes a sponsorship.
func (d *Decision) IsSponsorship() bool {
	return d.Action == ActionSponsorTransaction
}
