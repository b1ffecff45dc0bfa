// abuse.go implements the sybil/dust/blacklist pre-filter. The first
// abusive signal wins; transient lookup failures degrade to "not abusive"
// so a flaky explorer cannot block all traffic.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/log"
	"github.com/aegis-labs/aegis/ratelimit"
)

// Abuse thresholds.
const (
	// sybilMaxPerDay is the per-wallet 24h sponsorship count at which the
	// sybil signal fires.
	sybilMaxPerDay = 10

	// dustRatioThreshold is the fraction of sub-dust transactions at which
	// the dust-spam signal fires.
	dustRatioThreshold = 0.8

	// dustMinSample is the minimum recent-transaction sample for the dust
	// check to apply.
	dustMinSample = 5

	// DustValueETH is the value floor below which a transaction counts as
	// dust.
	DustValueETH = 1e-6
)

// ExplorerTx is one recent transaction from the explorer, reduced to what
// the dust check needs.
type ExplorerTx struct {
	ValueETH float64
}

// ExplorerReader fetches recent transactions from a third-party explorer.
type ExplorerReader interface {
	RecentTransactions(ctx context.Context, addr common.Address) ([]ExplorerTx, error)
}

// Detector is the standard AbuseChecker: sybil counting through the
// shared sliding windows, explorer-based dust analysis when an explorer
// is configured, and blacklist membership.
type Detector struct {
	windows   *ratelimit.SlidingWindow
	explorer  ExplorerReader // nil when no explorer URL is configured
	blacklist map[string]struct{}
	logger    *log.Logger
}

// NewDetector creates a Detector. blacklist entries are compared
// case-insensitively; explorer may be nil to disable the dust check.
func NewDetector(windows *ratelimit.SlidingWindow, explorer ExplorerReader, blacklist []string) *Detector {
	set := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		set[strings.ToLower(strings.TrimSpace(b))] = struct{}{}
	}
	return &Detector{
		windows:   windows,
		explorer:  explorer,
		blacklist: set,
		logger:    log.Default().Module("abuse"),
	}
}

// IsAbusive runs the three checks in order and returns on the first
// abusive result.
func (d *Detector) IsAbusive(ctx context.Context, agent common.Address) (bool, string) {
	count := d.windows.Count(ctx, ratelimit.SybilKey(agent.Hex()), 24*time.Hour)
	if count >= sybilMaxPerDay {
		return true, fmt.Sprintf("sybil signal: %d sponsorships in 24h", count)
	}

	if d.explorer != nil {
		if abusive, reason := d.dustCheck(ctx, agent); abusive {
			return true, reason
		}
	}

	if _, banned := d.blacklist[strings.ToLower(agent.Hex())]; banned {
		return true, "address is blacklisted"
	}
	return false, ""
}

// RecordSponsorship feeds the sybil counter after a successful sponsorship.
func (d *Detector) RecordSponsorship(ctx context.Context, agent common.Address) {
	d.windows.Record(ctx, ratelimit.SybilKey(agent.Hex()), 24*time.Hour)
}

// dustCheck flags wallets whose recent history is dominated by sub-dust
// transfers. Too small a sample, or an explorer failure, passes.
func (d *Detector) dustCheck(ctx context.Context, agent common.Address) (bool, string) {
	txs, err := d.explorer.RecentTransactions(ctx, agent)
	if err != nil {
		d.logger.Warn("explorer lookup failed, skipping dust check", "err", err.Error())
		return false, ""
	}
	if len(txs) < dustMinSample {
		return false, ""
	}

	dust := 0
	for _, tx := range txs {
		if tx.ValueETH < DustValueETH {
			dust++
		}
	}
	ratio := float64(dust) / float64(len(txs))
	if ratio >= dustRatioThreshold {
		return true, fmt.Sprintf("dust spam: %.0f%% of recent transactions below dust value", ratio*100)
	}
	return false, ""
}
