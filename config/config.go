// Package config holds the runtime configuration for the aegis control
// plane. All options are read from the process environment at startup into a
// single flat Config value; subsystems receive the parts they need and never
// read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Network identifiers recognised by AGENT_NETWORK_ID.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

// Default policy thresholds.
const (
	DefaultReserveThresholdETH        = 0.1
	DefaultMaxSponsorshipsPerUserDay  = 3
	DefaultMaxSponsorshipsPerMinute   = 10
	DefaultMaxPerProtocolPerMinute    = 5
	DefaultMaxSponsorshipCostUSD      = 0.5
	DefaultGasPriceMaxGwei            = 2.0
	DefaultPassportMinSponsorships    = 10
	DefaultPassportMinSuccessBps      = 9500
)

// Default breaker thresholds.
const (
	DefaultBreakerMaxGasGwei      = 5.0
	DefaultBreakerMinRunwayHours  = 24.0
	DefaultBreakerMinReserveETH   = 0.1
	DefaultBreakerMinReserveUSDC  = 100.0
	DefaultBreakerMaxBudgetPct    = 90.0
)

// Default reserve targets.
const (
	DefaultTargetReserveETH        = 0.5
	DefaultReserveCriticalETH      = 0.05
	DefaultHealthSkipThreshold     = 10.0
)

// Config is the effective configuration for one aegis process.
type Config struct {
	// Execution.
	NetworkID     string // base | base-sepolia
	PrivateKey    string // signing key hex; empty downgrades LIVE to SIMULATION
	WalletAddress string
	USDCAddress   string
	RPCURL        string

	// Policy thresholds.
	ReserveThresholdETH       float64
	MaxSponsorshipsPerUserDay int
	MaxSponsorshipsPerMinute  int
	MaxPerProtocolPerMinute   int
	MaxSponsorshipCostUSD     float64
	GasPriceMaxGwei           float64
	RequireAgentApproval      bool
	PassportMinSponsorships   int
	PassportMinSuccessBps     int

	// Economic breaker.
	BreakerEnabled        bool
	BreakerMaxGasGwei     float64
	BreakerMinRunwayHours float64
	BreakerMinReserveETH  float64
	BreakerMinReserveUSDC float64
	BreakerMaxBudgetPct   float64

	// Reserve state.
	TargetReserveETH    float64
	ReserveCriticalETH  float64
	HealthSkipThreshold float64

	// Channels.
	RedisURL               string
	RequestSignatureSecret string
	WebhookSecret          string

	// Observations.
	BlockscoutAPIURL        string
	LowGasCandidates        []string
	NewWalletCandidates     []string
	AbuseBlacklist          []string
	AbuseScamContracts      []string

	// HTTP server.
	ListenAddr string
}

// FromEnv builds a Config from the process environment, applying defaults
// for unset options.
func FromEnv() *Config {
	return &Config{
		NetworkID:     envStr("AGENT_NETWORK_ID", NetworkBase),
		PrivateKey:    firstNonEmpty(os.Getenv("EXECUTE_WALLET_PRIVATE_KEY"), os.Getenv("AGENT_PRIVATE_KEY")),
		WalletAddress: os.Getenv("AGENT_WALLET_ADDRESS"),
		USDCAddress:   os.Getenv("USDC_ADDRESS"),
		RPCURL:        os.Getenv("BASE_RPC_URL"),

		ReserveThresholdETH:       envFloat("RESERVE_THRESHOLD_ETH", DefaultReserveThresholdETH),
		MaxSponsorshipsPerUserDay: envInt("MAX_SPONSORSHIPS_PER_USER_DAY", DefaultMaxSponsorshipsPerUserDay),
		MaxSponsorshipsPerMinute:  envInt("MAX_SPONSORSHIPS_PER_MINUTE", DefaultMaxSponsorshipsPerMinute),
		MaxPerProtocolPerMinute:   envInt("MAX_SPONSORSHIPS_PER_PROTOCOL_MINUTE", DefaultMaxPerProtocolPerMinute),
		MaxSponsorshipCostUSD:     envFloat("MAX_SPONSORSHIP_COST_USD", DefaultMaxSponsorshipCostUSD),
		GasPriceMaxGwei:           envFloat("GAS_PRICE_MAX_GWEI", DefaultGasPriceMaxGwei),
		RequireAgentApproval:      envBool("REQUIRE_AGENT_APPROVAL", false),
		PassportMinSponsorships:   envInt("GAS_PASSPORT_PREFERENTIAL_MIN_SPONSORSHIPS", DefaultPassportMinSponsorships),
		PassportMinSuccessBps:     envInt("GAS_PASSPORT_PREFERENTIAL_MIN_SUCCESS_BPS", DefaultPassportMinSuccessBps),

		BreakerEnabled:        envBool("ECONOMIC_BREAKER_ENABLED", true),
		BreakerMaxGasGwei:     envFloat("ECONOMIC_BREAKER_MAX_GAS_GWEI", DefaultBreakerMaxGasGwei),
		BreakerMinRunwayHours: envFloat("ECONOMIC_BREAKER_MIN_RUNWAY_HOURS", DefaultBreakerMinRunwayHours),
		BreakerMinReserveETH:  envFloat("ECONOMIC_BREAKER_MIN_RESERVE_ETH", DefaultBreakerMinReserveETH),
		BreakerMinReserveUSDC: envFloat("ECONOMIC_BREAKER_MIN_RESERVE_USDC", DefaultBreakerMinReserveUSDC),
		BreakerMaxBudgetPct:   envFloat("ECONOMIC_BREAKER_MAX_BUDGET_PCT", DefaultBreakerMaxBudgetPct),

		TargetReserveETH:    envFloat("TARGET_RESERVE_ETH", DefaultTargetReserveETH),
		ReserveCriticalETH:  envFloat("RESERVE_CRITICAL_ETH", DefaultReserveCriticalETH),
		HealthSkipThreshold: envFloat("GAS_SPONSORSHIP_HEALTH_SKIP_THRESHOLD", DefaultHealthSkipThreshold),

		RedisURL:               os.Getenv("REDIS_URL"),
		RequestSignatureSecret: os.Getenv("REQUEST_SIGNATURE_SECRET"),
		WebhookSecret:          os.Getenv("PROTOCOL_WEBHOOK_SECRET"),

		BlockscoutAPIURL:    os.Getenv("BLOCKSCOUT_API_URL"),
		LowGasCandidates:    envList("WHITELISTED_LOW_GAS_CANDIDATES"),
		NewWalletCandidates: envList("WHITELISTED_NEW_WALLET_CANDIDATES"),
		AbuseBlacklist:      envList("ABUSE_BLACKLIST"),
		AbuseScamContracts:  envList("ABUSE_SCAM_CONTRACTS"),

		ListenAddr: envStr("AEGIS_LISTEN_ADDR", ":8080"),
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.NetworkID {
	case NetworkBase, NetworkBaseSepolia:
	default:
		return fmt.Errorf("config: unknown network id %q", c.NetworkID)
	}
	if c.MaxSponsorshipsPerUserDay <= 0 {
		return errors.New("config: max sponsorships per user per day must be positive")
	}
	if c.MaxSponsorshipsPerMinute <= 0 {
		return errors.New("config: max sponsorships per minute must be positive")
	}
	if c.MaxPerProtocolPerMinute <= 0 {
		return errors.New("config: max per-protocol sponsorships per minute must be positive")
	}
	if c.MaxSponsorshipCostUSD < 0 {
		return errors.New("config: max sponsorship cost must not be negative")
	}
	if c.GasPriceMaxGwei <= 0 {
		return errors.New("config: max gas price must be positive")
	}
	if c.BreakerMaxGasGwei <= 0 {
		return errors.New("config: breaker max gas price must be positive")
	}
	if c.TargetReserveETH <= 0 {
		return errors.New("config: target reserve must be positive")
	}
	if c.ReserveCriticalETH < 0 || c.ReserveCriticalETH >= c.TargetReserveETH {
		return errors.New("config: critical threshold must be below target reserve")
	}
	return nil
}

// IsTestnet reports whether the configured network is a test network. The
// reserve health target is halved on testnets.
func (c *Config) IsTestnet() bool {
	return c.NetworkID == NetworkBaseSepolia
}

// HasSigningKey reports whether a signing key is configured. Without one,
// LIVE execution is downgraded to SIMULATION.
func (c *Config) HasSigningKey() bool {
	return c.PrivateKey != ""
}

// ---------------------------------------------------------------------------
// Environment parsing helpers.
// ---------------------------------------------------------------------------

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// envList parses a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
