package calc

import "github.com/shopspring/decimal"

// Round rounds half away from zero to the given number of decimal places.
func Round(v float64, places int32) float64 {
	if !finite(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
