// Package orchestrator runs the autonomous decision loop. Each mode gets a
// dedicated ticker; a cycle observes, reasons, validates against policy,
// and executes, writing a memory record whatever the outcome. Cycles within
// one mode never overlap; modes run concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegis-labs/aegis/chain"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/metrics"
	"github.com/aegis-labs/aegis/policy"
	"github.com/aegis-labs/aegis/social"
)

// Orchestrator owns the mode tickers, the skill registry, and the event
// bus.
type Orchestrator struct {
	modes    []*Mode
	engine   *policy.Engine
	executor chain.Executor
	metrics  *metrics.Registry
	bus      *EventBus
	skills   *SkillRegistry
	memories *memoryLog
	logger   *log.Logger

	// gasPrice supplies the observed gas price injected into every
	// cycle's config before validation.
	gasPrice func(ctx context.Context) (float64, error)

	// post publishes a transparency post after a successful sponsorship.
	// Nil disables posting.
	post func(ctx context.Context, cat social.Category, text string) error

	// settle records the spend, passport, and reserve effects of an
	// executed sponsorship. Nil disables settlement.
	settle func(ctx context.Context, d *core.Decision, cfg *core.AgentConfig, exec *chain.ExecResult)

	draining atomic.Bool
	now      func() time.Time
}

// Options wire an Orchestrator.
type Options struct {
	Modes    []*Mode
	Engine   *policy.Engine
	Executor chain.Executor
	Metrics  *metrics.Registry
	Bus      *EventBus
	Skills   *SkillRegistry
	GasPrice func(ctx context.Context) (float64, error)
	Post     func(ctx context.Context, cat social.Category, text string) error
	Settle   func(ctx context.Context, d *core.Decision, cfg *core.AgentConfig, exec *chain.ExecResult)
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		modes:    opts.Modes,
		engine:   opts.Engine,
		executor: opts.Executor,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		skills:   opts.Skills,
		gasPrice: opts.GasPrice,
		post:     opts.Post,
		settle:   opts.Settle,
		memories: newMemoryLog(),
		logger:   log.Default().Module("orchestrator"),
		now:      time.Now,
	}
	if o.bus == nil {
		o.bus = NewEventBus(16)
	}
	if o.skills == nil {
		o.skills = NewSkillRegistry()
	}
	return o
}

// Bus returns the orchestrator's event bus.
func (o *Orchestrator) Bus() *EventBus { return o.bus }

// Skills returns the skill registry.
func (o *Orchestrator) Skills() *SkillRegistry { return o.skills }

// Memories returns the mode's recent memory records.
func (o *Orchestrator) Memories(modeID string) []core.Memory {
	return o.memories.recent(modeID)
}

// Run starts one ticker per mode plus the event-skill pump and blocks until
// ctx is cancelled. In-flight cycles finish before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Event skills listen on everything the control plane publishes.
	sub := o.bus.Subscribe(
		EventCycleCompleted, EventCycleError,
		EventBreakerOpened, EventBreakerClosed,
		EventSponsorshipExecuted, EventReserveEmergency, EventPolicyRejected,
	)
	g.Go(func() error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-sub.Chan():
				if !ok {
					return nil
				}
				o.skills.HandleEvent(gctx, ev)
			}
		}
	})

	for _, mode := range o.modes {
		g.Go(func() error {
			return o.runMode(gctx, mode)
		})
	}

	<-gctx.Done()
	o.draining.Store(true)
	o.logger.Info("draining, waiting for in-flight cycles")
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// runMode drives one mode's ticker. The next tick fires a fixed interval
// after the previous cycle completes, so cycles in a mode never overlap.
func (o *Orchestrator) runMode(ctx context.Context, mode *Mode) error {
	if mode.OnStart != nil {
		if err := mode.OnStart(ctx); err != nil {
			o.logger.Error("mode start hook failed", "mode", mode.ID, "err", err.Error())
		}
	}

	timer := time.NewTimer(mode.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if !o.draining.Load() {
				o.Cycle(ctx, mode)
				o.skills.RunScheduled(ctx)
			}
			timer.Reset(mode.Interval)
		}
	}
}

// Cycle runs one observe-reason-validate-execute pass for the mode. Any
// panic is contained; the next tick still runs.
func (o *Orchestrator) Cycle(ctx context.Context, mode *Mode) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("cycle panicked", "mode", mode.ID, "panic", fmt.Sprint(r))
			o.bus.Publish(EventCycleError, fmt.Sprintf("%s: panic: %v", mode.ID, r))
		}
	}()
	o.metrics.Cycles.WithLabelValues(mode.ID).Inc()

	obs, err := mode.Observe(ctx)
	if err != nil {
		o.logger.Error("observe failed", "mode", mode.ID, "err", err.Error())
		o.bus.Publish(EventCycleError, fmt.Sprintf("%s: observe: %v", mode.ID, err))
		return
	}
	if len(obs) == 0 {
		o.remember(core.Memory{
			ModeID:    mode.ID,
			Timestamp: o.now(),
			Outcome:   core.OutcomeWaited,
			Action:    core.ActionWait,
			Reasoning: "nothing to observe",
		})
		return
	}

	decision, err := mode.Reason(ctx, obs, o.memories.recent(mode.ID))
	if err != nil {
		o.logger.Error("reason failed", "mode", mode.ID, "err", err.Error())
		o.bus.Publish(EventCycleError, fmt.Sprintf("%s: reason: %v", mode.ID, err))
		return
	}
	if decision == nil {
		decision = &core.Decision{Action: core.ActionWait, Confidence: 1, Reasoning: "no decision"}
	}
	o.metrics.Decisions.WithLabelValues(string(decision.Action)).Inc()

	cfg := mode.Config(ctx)
	if gwei, gerr := o.gasPrice(ctx); gerr != nil {
		o.logger.Warn("gas price observation failed", "mode", mode.ID, "err", gerr.Error())
	} else {
		cfg.CurrentGasPriceGwei = gwei
	}

	res := o.engine.Validate(ctx, decision, cfg)
	if !res.Passed {
		if rule := firstRule(res.Errors); rule != "" {
			o.metrics.PolicyRejections.WithLabelValues(rule).Inc()
		}
		o.bus.Publish(EventPolicyRejected, res.Errors)
		o.remember(core.Memory{
			ModeID:    mode.ID,
			Timestamp: o.now(),
			Outcome:   core.OutcomePolicyRejected,
			Action:    decision.Action,
			Reasoning: decision.Reasoning,
			Errors:    res.Errors,
		})
		return
	}

	if decision.Confidence < cfg.ConfidenceThreshold {
		o.remember(core.Memory{
			ModeID:    mode.ID,
			Timestamp: o.now(),
			Outcome:   core.OutcomeLowConfidence,
			Action:    decision.Action,
			Reasoning: fmt.Sprintf("confidence %.2f below threshold %.2f", decision.Confidence, cfg.ConfidenceThreshold),
		})
		return
	}

	if decision.Action == core.ActionWait {
		o.remember(core.Memory{
			ModeID:    mode.ID,
			Timestamp: o.now(),
			Outcome:   core.OutcomeWaited,
			Action:    core.ActionWait,
			Reasoning: decision.Reasoning,
		})
		return
	}

	exec, err := o.executor.Execute(ctx, decision, cfg)
	if err != nil {
		o.logger.Error("execution failed", "mode", mode.ID, "err", err.Error())
		o.bus.Publish(EventCycleError, fmt.Sprintf("%s: execute: %v", mode.ID, err))
		o.remember(core.Memory{
			ModeID:    mode.ID,
			Timestamp: o.now(),
			Outcome:   core.OutcomeFailed,
			Action:    decision.Action,
			Reasoning: decision.Reasoning,
			Errors:    []string{err.Error()},
		})
		return
	}

	outcome := core.OutcomeExecuted
	if exec.Simulated {
		outcome = core.OutcomeSimulated
	}
	if decision.IsSponsorship() {
		if o.settle != nil {
			o.settle(ctx, decision, cfg, exec)
		}
		o.bus.Publish(EventSponsorshipExecuted, exec.TxHash)
		o.publishProof(ctx, decision, exec)
	}
	o.remember(core.Memory{
		ModeID:    mode.ID,
		Timestamp: o.now(),
		Outcome:   outcome,
		Action:    decision.Action,
		Reasoning: decision.Reasoning,
		TxHash:    exec.TxHash,
		CostUSD:   exec.ActualCostUSD,
	})
	o.bus.Publish(EventCycleCompleted, mode.ID)
}

// publishProof posts the sponsorship transparency proof through the
// rate-limited channel.
func (o *Orchestrator) publishProof(ctx context.Context, d *core.Decision, exec *chain.ExecResult) {
	if o.post == nil {
		return
	}
	text := fmt.Sprintf("Sponsored a transaction for %s on %s (tx %s, $%.4f)",
		d.Sponsor.AgentWallet.Hex(), d.Sponsor.ProtocolID, exec.TxHash, exec.ActualCostUSD)
	if err := o.post(ctx, social.CategoryProof, text); err != nil {
		o.logger.Warn("transparency post failed", "err", err.Error())
	}
}

func (o *Orchestrator) remember(m core.Memory) {
	o.memories.record(m)
}

// firstRule extracts the rule name from a "[rule] message" error line.
func firstRule(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	line := errs[0]
	if len(line) > 1 && line[0] == '[' {
		for i := 1; i < len(line); i++ {
			if line[i] == ']' {
				return line[1:i]
			}
		}
	}
	return ""
}
