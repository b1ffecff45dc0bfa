// Package node assembles and runs the aegis daemon: it builds the shared
// state store, the policy engine, the breaker, the queue and its consumer,
// the orchestrator modes, and the HTTP surface, then supervises them until
// a signal arrives.
package node

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-labs/aegis/breaker"
	"github.com/aegis-labs/aegis/chain"
	"github.com/aegis-labs/aegis/config"
	"github.com/aegis-labs/aegis/consumer"
	"github.com/aegis-labs/aegis/core"
	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/metrics"
	"github.com/aegis-labs/aegis/orchestrator"
	"github.com/aegis-labs/aegis/policy"
	"github.com/aegis-labs/aegis/queue"
	"github.com/aegis-labs/aegis/ratelimit"
	"github.com/aegis-labs/aegis/reserve"
	"github.com/aegis-labs/aegis/social"
	"github.com/aegis-labs/aegis/store"
)

// Node is one assembled aegis process.
type Node struct {
	cfg    *config.Config
	logger *log.Logger

	store    store.Store
	queue    *queue.Queue
	breaker  *breaker.Breaker
	reserves *reserve.Manager
	limiter  *social.Limiter
	metrics  *metrics.Registry
	engine   *policy.Engine
	executor chain.Executor
	chain    chain.Reader
	consumer *consumer.Consumer
	orch     *orchestrator.Orchestrator
	dir      policy.Directory
	abuse    *policy.Detector
	bus      *orchestrator.EventBus

	// scamContracts are targets refused at HTTP ingest before they reach
	// the queue.
	scamContracts map[string]struct{}

	breakerWasOpen atomic.Bool
}

// Options override external dependencies; zero values take production
// wiring.
type Options struct {
	// Chain substitutes the RPC reader (tests).
	Chain chain.Reader

	// Executor substitutes transaction execution (tests).
	Executor chain.Executor

	// Directory is the protocol approval/budget/whitelist database.
	Directory policy.Directory

	// Store substitutes the state store (tests).
	Store store.Store
}

// New assembles a Node from configuration. Without a signing key, LIVE
// execution downgrades to SIMULATION.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.Default().Module("node")

	n := &Node{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics.NewRegistry(),
		dir:           opts.Directory,
		scamContracts: make(map[string]struct{}, len(cfg.AbuseScamContracts)),
	}
	for _, c := range cfg.AbuseScamContracts {
		n.scamContracts[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	n.store = opts.Store
	if n.store == nil {
		n.store = store.Resolve(ctx, cfg.RedisURL)
	}
	if n.dir == nil {
		n.dir = policy.NewStoreDirectory(n.store)
	}

	n.chain = opts.Chain
	if n.chain == nil {
		client, err := chain.Dial(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("node: dial rpc: %w", err)
		}
		n.chain = client
	}

	n.executor = opts.Executor
	if n.executor == nil {
		// The live bundler path is out of scope; simulation is the only
		// built-in executor.
		n.executor = chain.NewSimulatedExecutor()
	}

	n.queue = queue.New(n.store)
	n.breaker = breaker.New(breaker.FromConfig(cfg), n.store)
	n.limiter = social.NewLimiter(n.store)
	n.reserves = reserve.NewManager(n.store, reserve.Defaults{
		TargetReserveETH:     cfg.TargetReserveETH,
		CriticalThresholdETH: cfg.ReserveCriticalETH,
		Testnet:              cfg.IsTestnet(),
	})

	windows := ratelimit.NewSlidingWindow(n.store)
	var explorer policy.ExplorerReader
	if cfg.BlockscoutAPIURL != "" {
		explorer = chain.NewExplorerClient(cfg.BlockscoutAPIURL)
	}
	n.abuse = policy.NewDetector(windows, explorer, cfg.AbuseBlacklist)

	wallet := common.HexToAddress(cfg.WalletAddress)
	n.engine = policy.NewEngine(policy.SponsorshipRules(policy.SponsorshipDeps{
		Cfg:       cfg,
		Chain:     n.chain,
		Directory: n.dir,
		Abuse:     n.abuse,
		Windows:   windows,
		ReserveBalanceETH: func(ctx context.Context) float64 {
			balance, err := n.chain.BalanceETH(ctx, wallet)
			if err != nil {
				logger.Warn("reserve balance lookup failed", "err", err.Error())
				return 0
			}
			return balance
		},
	}))

	bus := orchestrator.NewEventBus(16)
	n.bus = bus

	var observers []orchestrator.OpportunityObserver
	if entries := orchestrator.ParseWatchlist(cfg.LowGasCandidates); len(entries) > 0 {
		observers = append(observers, orchestrator.NewLowGasObserver(n.chain, entries))
	}
	if entries := orchestrator.ParseWatchlist(cfg.NewWalletCandidates); len(entries) > 0 {
		observers = append(observers, orchestrator.NewFreshWalletObserver(n.chain, entries))
	}

	sponsorshipMode := orchestrator.NewSponsorshipMode(orchestrator.SponsorshipModeDeps{
		Cfg:       cfg,
		Reserves:  n.reserves,
		Observers: observers,
	})
	reserveMode := orchestrator.NewReserveMode(orchestrator.ReserveModeDeps{
		Cfg:      cfg,
		Reserves: n.reserves,
		Chain:    n.chain,
		Bus:      bus,
	})

	execMode := core.ModeLive
	if !cfg.HasSigningKey() {
		logger.Warn("no signing key configured, downgrading LIVE to SIMULATION")
		execMode = core.ModeSimulation
	}
	sponsorshipMode.Baseline.Mode = execMode
	reserveMode.Baseline.Mode = execMode

	n.orch = orchestrator.New(orchestrator.Options{
		Modes:    []*orchestrator.Mode{reserveMode, sponsorshipMode},
		Engine:   n.engine,
		Executor: n.executor,
		Metrics:  n.metrics,
		Bus:      bus,
		GasPrice: n.chain.GasPriceGwei,
		Post:     n.publishPost,
		Settle:   n.settleSponsorship,
	})

	n.consumer = consumer.New(consumer.Options{
		Queue:    n.queue,
		Engine:   n.engine,
		Executor: n.executor,
		Metrics:  n.metrics,
		Secret:   cfg.RequestSignatureSecret,
		ActiveConfig: func(ctx context.Context) (*core.AgentConfig, error) {
			cfg := sponsorshipMode.Config(ctx)
			gwei, err := n.chain.GasPriceGwei(ctx)
			if err != nil {
				return nil, err
			}
			cfg.CurrentGasPriceGwei = gwei
			cfg.Trigger = core.TriggerQueue
			return cfg, nil
		},
		BreakerOpen: n.breakerOpen,
		Settle:      n.settleSponsorship,
	})
	return n, nil
}

// settleSponsorship records the after-effects of an executed sponsorship:
// the spend drains the agent's daily window and the protocol's prepaid
// budget, the passport and sybil counter accrue, and the reserve burn
// accounting is refreshed so runway stays live.
func (n *Node) settleSponsorship(ctx context.Context, d *core.Decision, cfg *core.AgentConfig, exec *chain.ExecResult) {
	if d == nil || d.Sponsor == nil || exec == nil {
		return
	}
	sp := d.Sponsor

	cost := exec.ActualCostUSD
	if cost == 0 {
		cost = sp.EstimatedCostUSD
	}
	if rec, ok := n.dir.(policy.SettlementRecorder); ok {
		if err := rec.RecordSpend(ctx, sp.ProtocolID, sp.AgentWallet, cost); err != nil {
			n.logger.Error("spend settlement failed", "protocol", sp.ProtocolID, "err", err.Error())
		}
		if err := rec.RecordOutcome(ctx, sp.AgentWallet, true); err != nil {
			n.logger.Error("passport settlement failed", "agent", sp.AgentWallet.Hex(), "err", err.Error())
		}
	}
	n.abuse.RecordSponsorship(ctx, sp.AgentWallet)

	var gasETH float64
	if cfg != nil {
		gasETH = float64(sp.MaxGasUnits) * cfg.CurrentGasPriceGwei * 1e-9
	}
	state := n.reserves.Update(ctx, func(s *reserve.State) {
		s.Sponsorships24h++
		if s.AvgBurnPerSponsorshipETH == 0 {
			s.AvgBurnPerSponsorshipETH = gasETH
		} else {
			count := float64(s.Sponsorships24h)
			s.AvgBurnPerSponsorshipETH = (s.AvgBurnPerSponsorshipETH*(count-1) + gasETH) / count
		}
	})
	n.reserves.RecordBurnSnapshot(ctx, state.AvgBurnPerSponsorshipETH*float64(state.Sponsorships24h))
}

// Queue exposes the sponsorship queue (HTTP handlers, tests).
func (n *Node) Queue() *queue.Queue { return n.queue }

// Orchestrator exposes the orchestrator (skill registration, tests).
func (n *Node) Orchestrator() *orchestrator.Orchestrator { return n.orch }

// breakerOpen runs a breaker check from live signals and reports the
// resulting state.
func (n *Node) breakerOpen(ctx context.Context) (bool, string) {
	state := n.reserves.Load(ctx)
	checkCtx := breaker.CheckContext{ProtocolBudgets: toBreakerBudgets(state.ProtocolBudgets)}

	if gwei, err := n.chain.GasPriceGwei(ctx); err == nil {
		checkCtx.CurrentGasPriceGwei = &gwei
	}
	eth := state.ETHBalance
	usdc := state.USDCBalance
	checkCtx.ReservesETH = &eth
	checkCtx.ReservesUSDC = &usdc
	if state.RunwayDays > 0 {
		hours := state.RunwayDays * 24
		checkCtx.EstimatedRunwayHours = &hours
	}

	res := n.breaker.Check(ctx, checkCtx)
	n.metrics.SetBreakerOpen(res.Open)
	if was := n.breakerWasOpen.Swap(res.Open); was != res.Open {
		if res.Open {
			n.bus.Publish(orchestrator.EventBreakerOpened, res.Reason)
		} else {
			n.bus.Publish(orchestrator.EventBreakerClosed, nil)
		}
	}
	return res.Open, res.Reason
}

// publishPost sends a transparency post through the monthly rate limiter.
// Posting is best-effort; a full budget drops the post.
func (n *Node) publishPost(ctx context.Context, cat social.Category, text string) error {
	if !n.limiter.Allow(ctx, cat) {
		return fmt.Errorf("node: monthly %s budget exhausted", cat)
	}
	if err := n.limiter.Consume(ctx, cat); err != nil {
		return err
	}
	n.metrics.Posts.WithLabelValues(string(cat)).Inc()
	n.logger.Info("transparency post published", "category", string(cat), "text", text)
	return nil
}

// Run starts the orchestrator, consumer, and HTTP server, then blocks until
// SIGINT/SIGTERM or a fatal subsystem error. In-flight cycles drain before
// Run returns.
func (n *Node) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.orch.Run(gctx) })
	g.Go(func() error { return n.consumer.Run(gctx) })
	g.Go(func() error { return n.serveHTTP(gctx) })

	n.logger.Info("aegis node started",
		"network", n.cfg.NetworkID,
		"listen", n.cfg.ListenAddr,
		"signing", n.cfg.HasSigningKey())

	err := g.Wait()
	if err == context.Canceled {
		n.logger.Info("aegis node stopped")
		return nil
	}
	return err
}

func toBreakerBudgets(in []reserve.ProtocolBudget) []breaker.ProtocolBudget {
	out := make([]breaker.ProtocolBudget, 0, len(in))
	for _, b := range in {
		out = append(out, breaker.ProtocolBudget{
			ProtocolID:       b.ProtocolID,
			BalanceUSD:       b.BalanceUSD,
			DailyBurnRateUSD: b.DailyBurnRateUSD,
		})
	}
	return out
}
