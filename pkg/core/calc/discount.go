package calc

import "math"

// GordonTerminalValue capitalises the final explicit cash flow as a growing
// perpetuity: CF_n * (1+g) / (r-g). ok is false when r <= g, where the
// perpetuity does not converge.
func GordonTerminalValue(finalCF, rate, growth float64) (tv float64, ok bool) {
	if rate <= growth {
		return 0, false
	}
	return finalCF * (1 + growth) / (rate - growth), true
}

// PresentValue discounts a single end-of-period cash flow.
//
// FORMULA: PV = CF / (1 + r)^t
func PresentValue(cashFlow, rate float64, periods int) float64 {
	return cashFlow / math.Pow(1+rate, float64(periods))
}
