package patterns

import (
	"pattern-scanner/internal/analysis/indicators"
)

// VolumeConfirmation checks whether the latest bar's volume supports a breakout.
type VolumeConfirmation struct {
	lookback   int     // Bars in the baseline, excluding the latest
	multiplier float64 // Latest volume must reach multiplier x baseline
}

// NewVolumeConfirmation creates a volume check. Non-positive arguments fall back to
// a 20-bar baseline and a 1.5x multiplier.
func NewVolumeConfirmation(lookback int, multiplier float64) *VolumeConfirmation {
	if lookback < 1 {
		lookback = 20
	}
	if multiplier <= 0 {
		multiplier = 1.5
	}
	return &VolumeConfirmation{
		lookback:   lookback,
		multiplier: multiplier,
	}
}

func (v *VolumeConfirmation) Name() string {
	return "VolumeConfirmation"
}

// MinSamples is the number of volume samples needed before a breakout can be confirmed.
func (v *VolumeConfirmation) MinSamples() int {
	return v.lookback + 1
}

// Confirmed reports whether the last volume is at least multiplier times the mean of
// the lookback volumes before it. Short histories and a zero latest volume are
// unconfirmed.
func (v *VolumeConfirmation) Confirmed(volumes []float64) bool {
	n := len(volumes)
	if n < v.MinSamples() {
		return false
	}
	latest := volumes[n-1]
	if latest <= 0 {
		return false
	}
	baseline := indicators.Mean(volumes[n-1-v.lookback : n-1])
	return latest >= baseline*v.multiplier
}
