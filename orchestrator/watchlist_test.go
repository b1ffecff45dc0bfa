package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type watchChain struct {
	balances map[common.Address]float64
	nonces   map[common.Address]uint64
	err      error
}

func (w *watchChain) GasPriceGwei(context.Context) (float64, error) { return 1, nil }
func (w *watchChain) BalanceETH(_ context.Context, addr common.Address) (float64, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.balances[addr], nil
}
func (w *watchChain) TransactionCount(_ context.Context, addr common.Address) (uint64, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.nonces[addr], nil
}

func TestParseWatchlist(t *testing.T) {
	entries := ParseWatchlist([]string{
		"defi-proto:0x1111111111111111111111111111111111111111",
		"missing-address",
		":0x2222222222222222222222222222222222222222",
		"game-proto:not-an-address",
		"game-proto:0x3333333333333333333333333333333333333333",
	})
	if len(entries) != 2 {
		t.Fatalf("parsed %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].ProtocolID != "defi-proto" || entries[1].ProtocolID != "game-proto" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLowGasObserver(t *testing.T) {
	empty := common.HexToAddress("0x1111111111111111111111111111111111111111")
	funded := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chain := &watchChain{balances: map[common.Address]float64{empty: 0.0001, funded: 0.5}}

	obs := NewLowGasObserver(chain, []WatchlistEntry{
		{ProtocolID: "p", Wallet: empty},
		{ProtocolID: "p", Wallet: funded},
	})
	opps, err := obs(context.Background())
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if len(opps) != 1 || opps[0].AgentWallet != empty {
		t.Fatalf("opportunities = %+v, want one for the drained wallet", opps)
	}
	if opps[0].ProtocolID != "p" || opps[0].MaxGasUnits == 0 {
		t.Fatalf("opportunity = %+v", opps[0])
	}
}

func TestLowGasObserverSkipsFailedLookups(t *testing.T) {
	chain := &watchChain{err: errors.New("rpc down")}
	obs := NewLowGasObserver(chain, []WatchlistEntry{
		{ProtocolID: "p", Wallet: common.HexToAddress("0x1111111111111111111111111111111111111111")},
	})
	opps, err := obs(context.Background())
	if err != nil || len(opps) != 0 {
		t.Fatalf("opps = %v err = %v, want empty and nil", opps, err)
	}
}

func TestFreshWalletObserver(t *testing.T) {
	fresh := common.HexToAddress("0x1111111111111111111111111111111111111111")
	active := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chain := &watchChain{nonces: map[common.Address]uint64{fresh: 0, active: 12}}

	obs := NewFreshWalletObserver(chain, []WatchlistEntry{
		{ProtocolID: "p", Wallet: fresh},
		{ProtocolID: "p", Wallet: active},
	})
	opps, err := obs(context.Background())
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	if len(opps) != 1 || opps[0].AgentWallet != fresh {
		t.Fatalf("opportunities = %+v, want one for the fresh wallet", opps)
	}
}
