// observation.go defines the Observation record emitted once per tick by a
// mode's observe step. Observations are produced once, consumed by the
// reason step, and discarded after the cycle's memory write.
package core

import "time"

// ObservationSource tags where an observation came from.
type ObservationSource string

// Recognised observation sources.
const (
	SourceBlockchain ObservationSource = "blockchain"
	SourceAPI        ObservationSource = "api"
	SourceInternal   ObservationSource = "internal"
)

// Observation is a single unit of observed state. Data is intentionally
// unstructured and carried opaquely through the pipeline.
type Observation struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    ObservationSource `json:"source"`
	ChainID   uint64            `json:"chainId,omitempty"`
	Data      any               `json:"data"`
	Context   string            `json:"context,omitempty"`
}

// MemoryOutcome classifies how a cycle ended.
type MemoryOutcome string

// Cycle outcomes recorded in memory.
const (
	OutcomeExecuted       MemoryOutcome = "EXECUTED"
	OutcomePolicyRejected MemoryOutcome = "POLICY_REJECTED"
	OutcomeLowConfidence  MemoryOutcome = "LOW_CONFIDENCE"
	OutcomeSimulated      MemoryOutcome = "SIMULATED"
	OutcomeFailed         MemoryOutcome = "FAILED"
	OutcomeWaited         MemoryOutcome = "WAITED"
)

// Memory is the per-cycle record written after every cycle. Recent memories
// are fed back into the next reason step.
type Memory struct {
	ModeID    string        `json:"modeId"`
	Timestamp time.Time     `json:"timestamp"`
	Outcome   MemoryOutcome `json:"outcome"`
	Action    ActionKind    `json:"action,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
	TxHash    string        `json:"txHash,omitempty"`
	CostUSD   float64       `json:"costUsd,omitempty"`
}
