package calc

import (
	"gonum.org/v1/gonum/stat"
)

// TrendModel is a fitted line value ≈ Slope*year + Intercept.
type TrendModel struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	N         int     `json:"n"`
	RSquared  float64 `json:"r_squared"`
}

// At evaluates the line at x.
func (m TrendModel) At(x float64) float64 {
	return m.Slope*x + m.Intercept
}

// FitTrend fits the series on the given backend and attaches the R² diagnostic.
// A nil backend means native.
func FitTrend(backend NumericBackend, xs, ys []float64) (TrendModel, error) {
	if backend == nil {
		backend = NativeBackend{}
	}
	m, err := backend.FitTrend(xs, ys)
	if err != nil {
		return TrendModel{}, err
	}
	m.N = len(xs)
	m.RSquared = rSquared(xs, ys, m)
	return m, nil
}

// rSquared is informational only; a flat series fitted exactly scores 1.
func rSquared(xs, ys []float64, m TrendModel) float64 {
	if stat.Variance(ys, nil) == 0 {
		return 1
	}
	return stat.RSquared(xs, ys, nil, m.Intercept, m.Slope)
}
