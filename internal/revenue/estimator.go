// Package revenue converts play counts into estimated payouts.
package revenue

import (
	"streamrev/internal/core"
)

const (
	// PerStreamRate is an industry-average payout per stream in USD.
	// It is an estimate, not the rate Spotify actually pays for a given track.
	PerStreamRate = 0.00238
	// Currency of PerStreamRate
	Currency = "USD"
)

// Estimate applies PerStreamRate to a play count. The rate and currency are
// always set so callers can show the rate used even when no count was found.
func Estimate(pc core.PlayCount) core.RevenueEstimate {
	estimate := core.RevenueEstimate{
		PerStream: PerStreamRate,
		Currency:  Currency,
	}

	if pc.Found && pc.Count >= 0 {
		total := float64(pc.Count) * PerStreamRate
		estimate.Total = &total
	}

	return estimate
}
