// executor.go is the seam between decision-making and transaction
// submission. The bundler/signing layer sits behind Executor; the simulated
// implementation satisfies SIMULATION mode and tests.
package chain

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
)

// ExecResult is the outcome of executing a decision.
type ExecResult struct {
	TxHash        string
	UserOpHash    string
	ActualCostUSD float64
	Simulated     bool
}

// Executor submits a validated decision for execution.
type Executor interface {
	Execute(ctx context.Context, d *core.Decision, cfg *core.AgentConfig) (*ExecResult, error)
}

// SimulatedExecutor logs what would have been executed and fabricates a
// result. It backs SIMULATION mode and any LIVE mode downgraded for lack of
// a signing key.
type SimulatedExecutor struct {
	logger *log.Logger
}

// NewSimulatedExecutor creates a SimulatedExecutor.
func NewSimulatedExecutor() *SimulatedExecutor {
	return &SimulatedExecutor{logger: log.Default().Module("executor")}
}

// Execute pretends to execute the decision.
func (s *SimulatedExecutor) Execute(_ context.Context, d *core.Decision, cfg *core.AgentConfig) (*ExecResult, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	res := &ExecResult{
		TxHash:     "0xsim" + uuid.NewString()[:8],
		UserOpHash: "0xsimop" + uuid.NewString()[:8],
		Simulated:  true,
	}
	if d.IsSponsorship() {
		res.ActualCostUSD = d.Sponsor.EstimatedCostUSD
	}
	s.logger.Info("simulated execution",
		"action", string(d.Action),
		"mode", string(cfg.Mode),
		"txHash", res.TxHash)
	return res, nil
}

var _ Executor = (*SimulatedExecutor)(nil)

// ErrUnsupportedAction is returned by executors for action kinds they do not
// implement.
var ErrUnsupportedAction = fmt.Errorf("chain: unsupported action")
