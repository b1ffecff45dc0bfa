package config

import (
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	// With a clean environment the built-in defaults apply.
	for _, key := range []string{
		"AGENT_NETWORK_ID", "RESERVE_THRESHOLD_ETH", "MAX_SPONSORSHIPS_PER_USER_DAY",
		"MAX_SPONSORSHIPS_PER_MINUTE", "MAX_SPONSORSHIPS_PER_PROTOCOL_MINUTE",
		"MAX_SPONSORSHIP_COST_USD", "GAS_PRICE_MAX_GWEI", "ECONOMIC_BREAKER_ENABLED",
		"EXECUTE_WALLET_PRIVATE_KEY", "AGENT_PRIVATE_KEY",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	if cfg.NetworkID != NetworkBase {
		t.Errorf("NetworkID = %q, want %q", cfg.NetworkID, NetworkBase)
	}
	if cfg.ReserveThresholdETH != 0.1 {
		t.Errorf("ReserveThresholdETH = %v, want 0.1", cfg.ReserveThresholdETH)
	}
	if cfg.MaxSponsorshipsPerUserDay != 3 {
		t.Errorf("MaxSponsorshipsPerUserDay = %d, want 3", cfg.MaxSponsorshipsPerUserDay)
	}
	if cfg.MaxSponsorshipsPerMinute != 10 {
		t.Errorf("MaxSponsorshipsPerMinute = %d, want 10", cfg.MaxSponsorshipsPerMinute)
	}
	if cfg.MaxPerProtocolPerMinute != 5 {
		t.Errorf("MaxPerProtocolPerMinute = %d, want 5", cfg.MaxPerProtocolPerMinute)
	}
	if cfg.MaxSponsorshipCostUSD != 0.5 {
		t.Errorf("MaxSponsorshipCostUSD = %v, want 0.5", cfg.MaxSponsorshipCostUSD)
	}
	if cfg.GasPriceMaxGwei != 2.0 {
		t.Errorf("GasPriceMaxGwei = %v, want 2.0", cfg.GasPriceMaxGwei)
	}
	if !cfg.BreakerEnabled {
		t.Error("BreakerEnabled = false, want true by default")
	}
	if cfg.BreakerMaxGasGwei != 5.0 {
		t.Errorf("BreakerMaxGasGwei = %v, want 5.0", cfg.BreakerMaxGasGwei)
	}
	if cfg.TargetReserveETH != 0.5 {
		t.Errorf("TargetReserveETH = %v, want 0.5", cfg.TargetReserveETH)
	}
	if cfg.ReserveCriticalETH != 0.05 {
		t.Errorf("ReserveCriticalETH = %v, want 0.05", cfg.ReserveCriticalETH)
	}
	if cfg.HealthSkipThreshold != 10.0 {
		t.Errorf("HealthSkipThreshold = %v, want 10.0", cfg.HealthSkipThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_NETWORK_ID", "base-sepolia")
	t.Setenv("MAX_SPONSORSHIPS_PER_USER_DAY", "7")
	t.Setenv("GAS_PRICE_MAX_GWEI", "3.5")
	t.Setenv("ECONOMIC_BREAKER_ENABLED", "false")
	t.Setenv("ABUSE_BLACKLIST", "0xabc, 0xdef,,0x123 ")

	cfg := FromEnv()

	if cfg.NetworkID != NetworkBaseSepolia {
		t.Errorf("NetworkID = %q, want base-sepolia", cfg.NetworkID)
	}
	if !cfg.IsTestnet() {
		t.Error("IsTestnet() = false for base-sepolia")
	}
	if cfg.MaxSponsorshipsPerUserDay != 7 {
		t.Errorf("MaxSponsorshipsPerUserDay = %d, want 7", cfg.MaxSponsorshipsPerUserDay)
	}
	if cfg.GasPriceMaxGwei != 3.5 {
		t.Errorf("GasPriceMaxGwei = %v, want 3.5", cfg.GasPriceMaxGwei)
	}
	if cfg.BreakerEnabled {
		t.Error("BreakerEnabled = true, want false")
	}
	want := []string{"0xabc", "0xdef", "0x123"}
	if len(cfg.AbuseBlacklist) != len(want) {
		t.Fatalf("AbuseBlacklist = %v, want %v", cfg.AbuseBlacklist, want)
	}
	for i := range want {
		if cfg.AbuseBlacklist[i] != want[i] {
			t.Errorf("AbuseBlacklist[%d] = %q, want %q", i, cfg.AbuseBlacklist[i], want[i])
		}
	}
}

func TestPrivateKeyFallback(t *testing.T) {
	t.Setenv("EXECUTE_WALLET_PRIVATE_KEY", "")
	t.Setenv("AGENT_PRIVATE_KEY", "0xfallback")

	cfg := FromEnv()
	if cfg.PrivateKey != "0xfallback" {
		t.Errorf("PrivateKey = %q, want fallback key", cfg.PrivateKey)
	}

	t.Setenv("EXECUTE_WALLET_PRIVATE_KEY", "0xprimary")
	cfg = FromEnv()
	if cfg.PrivateKey != "0xprimary" {
		t.Errorf("PrivateKey = %q, want primary key", cfg.PrivateKey)
	}
	if !cfg.HasSigningKey() {
		t.Error("HasSigningKey() = false with key set")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown network", func(c *Config) { c.NetworkID = "mainnet" }},
		{"zero user cap", func(c *Config) { c.MaxSponsorshipsPerUserDay = 0 }},
		{"zero global cap", func(c *Config) { c.MaxSponsorshipsPerMinute = 0 }},
		{"negative cost cap", func(c *Config) { c.MaxSponsorshipCostUSD = -1 }},
		{"zero gas ceiling", func(c *Config) { c.GasPriceMaxGwei = 0 }},
		{"critical above target", func(c *Config) { c.ReserveCriticalETH = 1.0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AGENT_NETWORK_ID", "")
			cfg := FromEnv()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted %s", tt.name)
			}
		})
	}
}
