// mode.go defines the Mode contract. A mode bundles an observation
// producer, a reasoner, and a baseline config; the orchestrator gives each
// mode its own ticker.
package orchestrator

import (
	"context"
	"time"

	"github.com/aegis-labs/aegis/core"
)

// Mode is one autonomous operating mode of the control plane.
type Mode struct {
	// ID is the stable machine identifier, used in memories and metrics.
	ID string

	// Name is the human-readable mode name.
	Name string

	// Baseline is the mode's AgentConfig before per-cycle adaptation.
	Baseline core.AgentConfig

	// Interval is the tick period between cycles.
	Interval time.Duration

	// Observe produces this tick's observations. An empty set short-
	// circuits the cycle to a WAIT.
	Observe func(ctx context.Context) ([]core.Observation, error)

	// Reason turns observations and recent memories into a decision.
	Reason func(ctx context.Context, obs []core.Observation, mems []core.Memory) (*core.Decision, error)

	// AdaptConfig optionally tightens the baseline for this cycle. Nil
	// means the baseline is used as-is.
	AdaptConfig func(ctx context.Context, baseline *core.AgentConfig) *core.AgentConfig

	// OnStart runs once before the first cycle. Optional.
	OnStart func(ctx context.Context) error
}

// Config returns the effective AgentConfig for one cycle. Always a copy;
// cycles never mutate the baseline.
func (m *Mode) Config(ctx context.Context) *core.AgentConfig {
	base := m.Baseline.Clone()
	if m.AdaptConfig == nil {
		return base
	}
	return m.AdaptConfig(ctx, base)
}
