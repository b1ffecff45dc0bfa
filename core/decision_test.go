package core

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sponsorDecision() *Decision {
	return &Decision{
		Action:     ActionSponsorTransaction,
		Confidence: 0.9,
		Reasoning:  "test",
		Sponsor: &SponsorParams{
			AgentWallet:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
			ProtocolID:       "proto-1",
			EstimatedCostUSD: 0.25,
			MaxGasUnits:      200_000,
		},
	}
}

func TestDecisionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Decision)
		wantErr bool
	}{
		{"valid sponsorship", func(d *Decision) {}, false},
		{"unknown action", func(d *Decision) { d.Action = "TELEPORT" }, true},
		{"confidence above one", func(d *Decision) { d.Confidence = 1.5 }, true},
		{"negative confidence", func(d *Decision) { d.Confidence = -0.1 }, true},
		{"missing sponsor params", func(d *Decision) { d.Sponsor = nil }, true},
		{"missing protocol id", func(d *Decision) { d.Sponsor.ProtocolID = "" }, true},
		{"negative cost", func(d *Decision) { d.Sponsor.EstimatedCostUSD = -1 }, true},
		{"zero gas", func(d *Decision) { d.Sponsor.MaxGasUnits = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sponsorDecision()
			tt.mutate(d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaitDecisionNeedsNoParams(t *testing.T) {
	d := &Decision{Action: ActionWait, Confidence: 0.5, Reasoning: "nothing to do"}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if d.IsSponsorship() {
		t.Error("IsSponsorship() = true for WAIT")
	}
}

func TestSponsorParamsHasTarget(t *testing.T) {
	p := &SponsorParams{}
	if p.HasTarget() {
		t.Error("HasTarget() = true for zero address")
	}
	p.TargetContract = common.HexToAddress("0x2222222222222222222222222222222222222222")
	if !p.HasTarget() {
		t.Error("HasTarget() = false for set address")
	}
}

func TestAgentConfigValidateAndClone(t *testing.T) {
	cfg := &AgentConfig{
		ConfidenceThreshold: 0.8,
		Mode:                ModeLive,
		MaxGasPriceGwei:     2,
		AllowedRecipients:   []string{"0xabc"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	clone := cfg.Clone()
	clone.ConfidenceThreshold = 0.9
	clone.AllowedRecipients[0] = "0xdef"
	if cfg.ConfidenceThreshold != 0.8 {
		t.Error("Clone shares confidence threshold with original")
	}
	if cfg.AllowedRecipients[0] != "0xabc" {
		t.Error("Clone shares recipient slice with original")
	}

	bad := cfg.Clone()
	bad.Mode = "YOLO"
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted unknown execution mode")
	}
}
