// runway.go estimates how long the native reserve lasts at the observed
// burn rate. Gas products use 256-bit integers: gasUnits times a wei-scale
// price overflows 64 bits long before it overflows a real sponsorship.
package breaker

import (
	"math"
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

// Runway confidence levels, by sample count.
const (
	ConfidenceHigh   = "high"   // >= 50 samples
	ConfidenceMedium = "medium" // >= 10 samples
	ConfidenceLow    = "low"
)

// weiPerETH is 10^18 as a 256-bit constant.
var weiPerETH = uint256.NewInt(1_000_000_000_000_000_000)

// SponsorshipSample is one historical sponsorship used for burn estimation.
type SponsorshipSample struct {
	Timestamp    time.Time
	GasUnits     uint64
	GasPriceGwei float64
}

// RunwayEstimate is the result of EstimateRunway.
type RunwayEstimate struct {
	// Hours until the native reserve is exhausted at the trailing burn
	// rate. +Inf when no burn was observed.
	Hours float64

	// BurnedETH24h is the total native burned across the trailing 24h.
	BurnedETH24h float64

	// Samples is the number of sponsorships inside the window.
	Samples int

	// Confidence is high/medium/low by sample count.
	Confidence string
}

// EstimateRunway computes the trailing-24h burn from the sample history and
// divides the native balance by the hourly rate. Samples outside the 24h
// window are ignored.
func EstimateRunway(ethBalance float64, samples []SponsorshipSample, now time.Time) RunwayEstimate {
	cutoff := now.Add(-24 * time.Hour)

	totalWei := new(uint256.Int)
	count := 0
	for _, s := range samples {
		if !s.Timestamp.After(cutoff) {
			continue
		}
		count++
		// gasUnits * gasPriceWei, exact in 256 bits.
		priceWei := uint256.NewInt(uint64(math.Round(s.GasPriceGwei * 1e9)))
		product := new(uint256.Int).Mul(uint256.NewInt(s.GasUnits), priceWei)
		totalWei.Add(totalWei, product)
	}

	burned := weiToETH(totalWei)
	est := RunwayEstimate{
		BurnedETH24h: burned,
		Samples:      count,
		Confidence:   confidenceFor(count),
	}

	hourlyBurn := burned / 24
	if hourlyBurn <= 0 {
		est.Hours = math.Inf(1)
		return est
	}
	est.Hours = ethBalance / hourlyBurn
	return est
}

// confidenceFor maps sample count onto a confidence label.
func confidenceFor(samples int) string {
	switch {
	case samples >= 50:
		return ConfidenceHigh
	case samples >= 10:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// weiToETH converts an exact wei total into a float64 ETH amount.
func weiToETH(wei *uint256.Int) float64 {
	f := new(big.Float).SetInt(wei.ToBig())
	f.Quo(f, new(big.Float).SetInt(weiPerETH.ToBig()))
	out, _ := f.Float64()
	return out
}
