// Package stress converts heart-rate variability readings into a bounded
// drain multiplier.
package stress

import (
	"fmt"
	"math"
)

// Defaults for the stress model.
const (
	DefaultBaselineHRV   = 60.0 // ms, typical resting RMSSD
	DefaultMinMultiplier = 0.2
	DefaultMaxMultiplier = 5.0

	// Neutral is the multiplier used when no physiological signal is present.
	Neutral = 1.0
)

// Modes reported for logging.
const (
	ModeBiometric     = "biometric"
	ModeEnvironmental = "environmental"
)

// Model maps current HRV to a multiplier: baseline / current, clamped.
// A low HRV relative to baseline means stress, so drain accelerates.
type Model struct {
	Baseline float64 `yaml:"baseline_hrv" json:"baseline_hrv"`
	Min      float64 `yaml:"min_multiplier" json:"min_multiplier"`
	Max      float64 `yaml:"max_multiplier" json:"max_multiplier"`
}

// DefaultModel returns the model with documented defaults.
func DefaultModel() Model {
	return Model{
		Baseline: DefaultBaselineHRV,
		Min:      DefaultMinMultiplier,
		Max:      DefaultMaxMultiplier,
	}
}

// Validate checks the model bounds.
func (m Model) Validate() error {
	if m.Baseline <= 0 {
		return fmt.Errorf("baseline_hrv must be positive, got %v", m.Baseline)
	}
	if m.Min <= 0 {
		return fmt.Errorf("min_multiplier must be positive, got %v", m.Min)
	}
	if m.Max < m.Min {
		return fmt.Errorf("max_multiplier %v below min_multiplier %v", m.Max, m.Min)
	}
	return nil
}

// Multiplier returns the drain multiplier for hrv.
// Absent, non-positive or non-finite values yield exactly Neutral.
func (m Model) Multiplier(hrv *float64) float64 {
	if !present(hrv) {
		return Neutral
	}
	return clamp(m.Baseline/(*hrv), m.Min, m.Max)
}

// Mode names which input drove the multiplier.
func (m Model) Mode(hrv *float64) string {
	if present(hrv) {
		return ModeBiometric
	}
	return ModeEnvironmental
}

// WithBaseline returns a copy of m using baseline when it is positive.
func (m Model) WithBaseline(baseline float64) Model {
	if baseline > 0 {
		m.Baseline = baseline
	}
	return m
}

func present(hrv *float64) bool {
	return hrv != nil && *hrv > 0 && !math.IsInf(*hrv, 0) && !math.IsNaN(*hrv)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
