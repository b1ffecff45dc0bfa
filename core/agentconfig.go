// agentconfig.go defines the per-cycle policy/execution configuration. Each
// mode carries a baseline AgentConfig; the orchestrator injects the live gas
// price and may tighten the confidence threshold before validation.
package core

import "fmt"

// ExecutionMode selects how decisions are executed.
type ExecutionMode string

// The closed set of execution modes.
const (
	ModeLive       ExecutionMode = "LIVE"
	ModeSimulation ExecutionMode = "SIMULATION"
	ModeReadOnly   ExecutionMode = "READONLY"
)

// Valid reports whether the mode is a member of the closed set.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeLive, ModeSimulation, ModeReadOnly:
		return true
	default:
		return false
	}
}

// TriggerSource records what caused a cycle to run.
type TriggerSource string

// Recognised trigger sources.
const (
	TriggerScheduled TriggerSource = "scheduled"
	TriggerQueue     TriggerSource = "queue"
	TriggerManual    TriggerSource = "manual"
)

// AgentConfig is the effective policy and execution configuration for a
// single cycle. The orchestrator copies the mode baseline and mutates only
// CurrentGasPriceGwei and (for the gas-sponsorship mode under low health)
// ConfidenceThreshold.
type AgentConfig struct {
	// ConfidenceThreshold is the minimum decision confidence to execute.
	ConfidenceThreshold float64

	// Mode selects live execution, simulation, or read-only observation.
	Mode ExecutionMode

	// MaxGasPriceGwei is the ceiling above which sponsorship is refused.
	MaxGasPriceGwei float64

	// CurrentGasPriceGwei is the observed gas price, injected by the
	// orchestrator before validation. Zero means not observed.
	CurrentGasPriceGwei float64

	// AllowedRecipients restricts execution targets when non-empty.
	AllowedRecipients []string

	// MaxSlippagePct bounds reserve swap slippage.
	MaxSlippagePct float64

	// RateLimitWindowSec and RateLimitQuota describe the mode's own
	// action rate limit.
	RateLimitWindowSec int
	RateLimitQuota     int

	// Trigger records what initiated the cycle.
	Trigger TriggerSource
}

// Validate checks configuration invariants.
func (c *AgentConfig) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("core: confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("core: unknown execution mode %q", c.Mode)
	}
	if c.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("core: max gas price must be positive")
	}
	return nil
}

// Clone returns a deep copy so per-cycle mutation never touches the mode
// baseline.
func (c *AgentConfig) Clone() *AgentConfig {
	out := *c
	if c.AllowedRecipients != nil {
		out.AllowedRecipients = append([]string(nil), c.AllowedRecipients...)
	}
	return &out
}
