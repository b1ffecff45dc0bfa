package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aegis-labs/aegis/core"
)

func TestWeiStringToETH(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1000000000000000000", 1},
		{"1000000000", 1e-9},
		{"0", 0},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := weiStringToETH(tt.in); got != tt.want {
			t.Errorf("weiStringToETH(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExplorerRecentTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "txlist" {
			t.Errorf("action = %q", r.URL.Query().Get("action"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "1",
			"result": []map[string]string{
				{"value": "1000000000000000000"},
				{"value": "100"},
			},
		})
	}))
	defer srv.Close()

	c := NewExplorerClient(srv.URL)
	txs, err := c.RecentTransactions(context.Background(), common.HexToAddress("0x1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[0].ValueETH != 1 {
		t.Fatalf("txs = %+v", txs)
	}
}

func TestExplorerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewExplorerClient(srv.URL)
	if _, err := c.RecentTransactions(context.Background(), common.Address{}); err == nil {
		t.Fatal("no error on 502")
	}
}

func TestSimulatedExecutor(t *testing.T) {
	exec := NewSimulatedExecutor()
	d := &core.Decision{
		Action:     core.ActionSponsorTransaction,
		Confidence: 1,
		Reasoning:  "test",
		Sponsor: &core.SponsorParams{
			AgentWallet:      common.HexToAddress("0x1"),
			ProtocolID:       "p",
			EstimatedCostUSD: 0.2,
			MaxGasUnits:      100_000,
		},
	}
	cfg := &core.AgentConfig{ConfidenceThreshold: 0.8, Mode: core.ModeSimulation, MaxGasPriceGwei: 2}

	res, err := exec.Execute(context.Background(), d, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Simulated || res.TxHash == "" || res.ActualCostUSD != 0.2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSimulatedExecutorRejectsInvalidDecision(t *testing.T) {
	exec := NewSimulatedExecutor()
	d := &core.Decision{Action: core.ActionSponsorTransaction, Confidence: 1}
	cfg := &core.AgentConfig{ConfidenceThreshold: 0.8, Mode: core.ModeSimulation, MaxGasPriceGwei: 2}

	if _, err := exec.Execute(context.Background(), d, cfg); err == nil {
		t.Fatal("invalid decision executed")
	}
}
