// Package consumer drains the sponsorship queue. Each tick dequeues up to
// five requests, runs them through signature verification, policy, and the
// executor, then sweeps stale processing entries. A panic while handling a
// request becomes a retryable failure so its id never strands in
// processing.
package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/chain"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/metrics"
	"github.com/aegis-labs/aegis/policy"
	"github.com/aegis-labs/aegis/queue"
)

// maxItemsPerRun bounds how many requests one tick processes.
const maxItemsPerRun = 5

// DefaultInterval is the tick period between drains.
const DefaultInterval = 30 * time.Second

// Consumer processes queued sponsorship requests.
type Consumer struct {
	queue    *queue.Queue
	engine   *policy.Engine
	executor chain.Executor
	metrics  *metrics.Registry
	logger   *log.Logger

	// secret signs queued requests; empty disables verification of
	// unsigned requests but still rejects signed ones it cannot check.
	secret string

	// activeConfig returns the gas-sponsorship mode's adaptive config with
	// the current gas price already injected.
	activeConfig func(ctx context.Context) (*core.AgentConfig, error)

	// breakerOpen reports whether the economic breaker currently blocks
	// sponsorship, with the open reason.
	breakerOpen func(ctx context.Context) (bool, string)

	// settle records the spend, passport, and reserve effects of an
	// executed sponsorship. Nil disables settlement.
	settle func(ctx context.Context, d *core.Decision, cfg *core.AgentConfig, exec *chain.ExecResult)

	// verifySignature is swappable in tests; defaults to auth.VerifyRequest
	// via the wrapper in wiring.go.
	verifySignature func(req *queue.Request, now time.Time) error

	interval time.Duration
	now      func() time.Time
}

// Options wire a Consumer.
type Options struct {
	Queue        *queue.Queue
	Engine       *policy.Engine
	Executor     chain.Executor
	Metrics      *metrics.Registry
	Secret       string
	ActiveConfig func(ctx context.Context) (*core.AgentConfig, error)
	BreakerOpen  func(ctx context.Context) (bool, string)
	Settle       func(ctx context.Context, d *core.Decision, cfg *core.AgentConfig, exec *chain.ExecResult)
	Interval     time.Duration
}

// New creates a Consumer.
func New(opts Options) *Consumer {
	c := &Consumer{
		queue:        opts.Queue,
		engine:       opts.Engine,
		executor:     opts.Executor,
		metrics:      opts.Metrics,
		secret:       opts.Secret,
		activeConfig: opts.ActiveConfig,
		breakerOpen:  opts.BreakerOpen,
		settle:       opts.Settle,
		interval:     opts.Interval,
		logger:       log.Default().Module("consumer"),
		now:          time.Now,
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	c.verifySignature = c.defaultVerify
	return c
}

// SetClock overrides the time source for tests.
func (c *Consumer) SetClock(now func() time.Time) { c.now = now }

// Run drains the queue on a fixed interval until ctx is cancelled. Each
// tick runs to completion before the next fires.
func (c *Consumer) Run(ctx context.Context) error {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			c.Tick(ctx)
			timer.Reset(c.interval)
		}
	}
}

// Tick drains up to maxItemsPerRun requests, then recovers stale entries.
// Returns the number of requests processed. An open breaker pauses draining
// entirely; pending requests wait for a later tick instead of burning
// retries.
func (c *Consumer) Tick(ctx context.Context) int {
	if open, reason := c.breakerOpen(ctx); open {
		c.logger.Warn("breaker open, queue drain paused", "reason", reason)
		c.sweep(ctx)
		return 0
	}

	processed := 0
	for i := 0; i < maxItemsPerRun; i++ {
		req, err := c.queue.Dequeue(ctx)
		if err != nil {
			c.logger.Warn("dequeue failed", "err", err.Error())
			break
		}
		if req == nil {
			break
		}
		c.process(ctx, req)
		processed++
	}
	c.sweep(ctx)
	return processed
}

// sweep recovers stale processing entries and publishes queue depth.
func (c *Consumer) sweep(ctx context.Context) {
	if n, err := c.queue.RecoverStale(ctx); err != nil {
		c.logger.Warn("stale recovery failed", "err", err.Error())
	} else if n > 0 {
		c.logger.Info("recovered stale requests", "count", n)
	}

	stats := c.queue.Stats(ctx)
	c.metrics.SetQueueDepth(stats.Pending, stats.Processing, stats.Completed, stats.Failed)
}

// process runs one request through the full pipeline. Panics become
// retryable failures.
func (c *Consumer) process(ctx context.Context, req *queue.Request) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic while processing: %v", r)
			c.logger.Error("request processing panicked", "id", req.ID, "panic", fmt.Sprint(r))
			if err := c.queue.Fail(ctx, req.ID, msg, true); err != nil {
				c.logger.Error("fail after panic failed", "id", req.ID, "err", err.Error())
			}
			c.metrics.Sponsorships.WithLabelValues("panic").Inc()
		}
	}()

	if req.HasSignature() {
		if err := c.verifySignature(req, c.now()); err != nil {
			c.reject(ctx, req.ID, err.Error())
			return
		}
	}

	cfg, err := c.activeConfig(ctx)
	if err != nil {
		if ferr := c.queue.Fail(ctx, req.ID, "config unavailable: "+err.Error(), true); ferr != nil {
			c.logger.Error("fail on config error failed", "id", req.ID, "err", ferr.Error())
		}
		return
	}

	decision := decisionFor(req)
	res := c.engine.Validate(ctx, decision, cfg)
	if !res.Passed {
		c.reject(ctx, req.ID, strings.Join(res.Errors, "; "))
		return
	}

	exec, err := c.executor.Execute(ctx, decision, cfg)
	if err != nil {
		if ferr := c.queue.Fail(ctx, req.ID, err.Error(), true); ferr != nil {
			c.logger.Error("fail after execution error failed", "id", req.ID, "err", ferr.Error())
		}
		c.metrics.Sponsorships.WithLabelValues("failed").Inc()
		return
	}

	if err := c.queue.Complete(ctx, req.ID, queue.Result{
		TxHash:        exec.TxHash,
		UserOpHash:    exec.UserOpHash,
		ActualCostUSD: exec.ActualCostUSD,
	}); err != nil {
		c.logger.Error("complete failed", "id", req.ID, "err", err.Error())
		return
	}
	if c.settle != nil {
		c.settle(ctx, decision, cfg, exec)
	}
	c.metrics.Sponsorships.WithLabelValues("completed").Inc()
	c.logger.Info("sponsorship executed", "id", req.ID, "txHash", exec.TxHash, "simulated", exec.Simulated)
}

func (c *Consumer) reject(ctx context.Context, id, reason string) {
	if err := c.queue.Reject(ctx, id, reason); err != nil {
		c.logger.Error("reject failed", "id", id, "err", err.Error())
	}
	c.metrics.Sponsorships.WithLabelValues("rejected").Inc()
}

// decisionFor builds the synthetic sponsorship decision for a queued
// request.
func decisionFor(req *queue.Request) *core.Decision {
	return &core.Decision{
		Action:     core.ActionSponsorTransaction,
		Confidence: 1.0,
		Reasoning:  "Queue sponsorship: " + req.ID,
		Sponsor: &core.SponsorParams{
			AgentWallet:      common.HexToAddress(req.AgentAddress),
			ProtocolID:       req.ProtocolID,
			EstimatedCostUSD: req.EstimatedCostUSD,
			MaxGasUnits:      req.MaxGasLimit,
			TargetContract:   common.HexToAddress(req.TargetContract),
		},
	}
}
