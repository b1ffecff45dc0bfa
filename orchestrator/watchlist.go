// watchlist.go builds opportunity observers from configured candidate
// lists: wallets known to run low on gas, and fresh wallets with no
// on-chain history yet. Entries are "protocolId:0xaddress" pairs.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/chain"
	"github.com/aegis-labs/aegis/log"
)

// lowGasBalanceETH is the balance under which a watched wallet counts as
// out of gas.
const lowGasBalanceETH = 0.0005

// Defaults for watchlist-sourced opportunities; the policy engine still
// re-checks cost and gas against the live config.
const (
	watchlistEstimatedCostUSD = 0.02
	watchlistMaxGasUnits      = 150_000
)

// WatchlistEntry is one parsed candidate.
type WatchlistEntry struct {
	ProtocolID string
	Wallet     common.Address
}

// ParseWatchlist parses "protocolId:0xaddress" entries, dropping malformed
// ones.
func ParseWatchlist(entries []string) []WatchlistEntry {
	logger := log.Default().Module("watchlist")
	out := make([]WatchlistEntry, 0, len(entries))
	for _, e := range entries {
		protocolID, addr, ok := strings.Cut(e, ":")
		if !ok || protocolID == "" || !common.IsHexAddress(addr) {
			logger.Warn("malformed watchlist entry skipped", "entry", e)
			continue
		}
		out = append(out, WatchlistEntry{ProtocolID: protocolID, Wallet: common.HexToAddress(addr)})
	}
	return out
}

// NewLowGasObserver surfaces watched wallets whose balance has fallen under
// the low-gas floor. Lookup failures skip the entry.
func NewLowGasObserver(reader chain.Reader, entries []WatchlistEntry) OpportunityObserver {
	logger := log.Default().Module("watchlist")
	return func(ctx context.Context) ([]Opportunity, error) {
		var opps []Opportunity
		for _, e := range entries {
			balance, err := reader.BalanceETH(ctx, e.Wallet)
			if err != nil {
				logger.Warn("balance lookup failed", "wallet", e.Wallet.Hex(), "err", err.Error())
				continue
			}
			if balance >= lowGasBalanceETH {
				continue
			}
			opps = append(opps, Opportunity{
				AgentWallet:      e.Wallet,
				ProtocolID:       e.ProtocolID,
				EstimatedCostUSD: watchlistEstimatedCostUSD,
				MaxGasUnits:      watchlistMaxGasUnits,
				Context:          fmt.Sprintf("watched wallet low on gas (%.6f ETH)", balance),
			})
		}
		return opps, nil
	}
}

// NewFreshWalletObserver surfaces watched wallets that have never sent a
// transaction and therefore cannot pay for their first one.
func NewFreshWalletObserver(reader chain.Reader, entries []WatchlistEntry) OpportunityObserver {
	logger := log.Default().Module("watchlist")
	return func(ctx context.Context) ([]Opportunity, error) {
		var opps []Opportunity
		for _, e := range entries {
			nonce, err := reader.TransactionCount(ctx, e.Wallet)
			if err != nil {
				logger.Warn("nonce lookup failed", "wallet", e.Wallet.Hex(), "err", err.Error())
				continue
			}
			if nonce > 0 {
				continue
			}
			opps = append(opps, Opportunity{
				AgentWallet:      e.Wallet,
				ProtocolID:       e.ProtocolID,
				EstimatedCostUSD: watchlistEstimatedCostUSD,
				MaxGasUnits:      watchlistMaxGasUnits,
				Context:          "watched wallet has no on-chain history",
			})
		}
		return opps, nil
	}
}
