// Package validate provides reusable financial validation utilities:
// growth-rate helpers and the integrity scan applied to ingested records.
// The scan is advisory; it never blocks downstream computation.
package validate

import (
	"math"
)

// =============================================================================
// YEAR-OVER-YEAR (YoY) CALCULATIONS
// =============================================================================

// CalculateYoY calculates year-over-year change between two values.
// Returns percentage change: (current - prior) / |prior| * 100
func CalculateYoY(current, prior float64) float64 {
	if prior == 0 {
		if current == 0 {
			return 0
		}
		return math.Inf(1) // Infinite growth from zero
	}
	return (current - prior) / math.Abs(prior) * 100
}

// =============================================================================
// CAGR (Compound Annual Growth Rate)
// =============================================================================

// CalculateCAGR calculates compound annual growth rate as a percentage.
// CAGR = ((EndValue / StartValue) ^ (1/years)) - 1
// ok is false when the rate is undefined: non-positive start, non-positive
// end/start ratio or non-positive period.
func CalculateCAGR(startValue, endValue float64, years int) (cagr float64, ok bool) {
	if startValue <= 0 || years <= 0 {
		return 0, false
	}
	ratio := endValue / startValue
	if ratio <= 0 || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
		return 0, false
	}
	return (math.Pow(ratio, 1.0/float64(years)) - 1) * 100, true
}
