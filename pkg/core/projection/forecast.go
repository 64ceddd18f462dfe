// Package projection extrapolates a metric's linear trend forward and builds
// the widening optimistic/pessimistic cone around it.
package projection

import (
	"fmt"
	"math"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// DefaultMaxHorizon caps Horizon when ForecastParams.MaxHorizon is zero.
const DefaultMaxHorizon = 50

// ForecastParams selects the metric and shape of a forecast.
type ForecastParams struct {
	Metric      string  `json:"metric"`
	Horizon     int     `json:"horizon"`     // years to project, > 0
	Sensitivity float64 `json:"sensitivity"` // spread at the end of the horizon, e.g. 0.10 = ±10%
	MaxHorizon  int     `json:"-"`           // 0 = DefaultMaxHorizon
}

// ForecastPoint is one row of the merged historical + projected series.
// Absent values are nil.
type ForecastPoint struct {
	Year           int         `json:"year"`
	Historical     *float64    `json:"historical,omitempty"`
	Forecast       *float64    `json:"forecast,omitempty"`
	High           *float64    `json:"high,omitempty"`
	Low            *float64    `json:"low,omitempty"`
	ConfidenceBand *[2]float64 `json:"confidence_band,omitempty"` // (low, high)
}

// IsJunction reports whether the point anchors the cone to the last actual.
func (p ForecastPoint) IsJunction() bool {
	return p.Historical != nil && p.Forecast != nil
}

// ForecastResult carries the series together with the trend that produced it.
type ForecastResult struct {
	Metric      string          `json:"metric"`
	Horizon     int             `json:"horizon"`
	Sensitivity float64         `json:"sensitivity"`
	Trend       calc.TrendModel `json:"trend"`
	Points      []ForecastPoint `json:"points"`
}

// Validate checks the parameters independently of any data.
func (p ForecastParams) Validate() error {
	if p.Metric == "" {
		return calc.Invalid("metric", "metric name is required")
	}
	if p.Horizon <= 0 {
		return calc.Invalid("horizon", "must be positive, got %d", p.Horizon)
	}
	limit := p.MaxHorizon
	if limit <= 0 {
		limit = DefaultMaxHorizon
	}
	if p.Horizon > limit {
		return calc.Invalid("horizon", "must not exceed %d years, got %d", limit, p.Horizon)
	}
	if math.IsNaN(p.Sensitivity) || p.Sensitivity < 0 || p.Sensitivity > 1 {
		return calc.Invalid("sensitivity", "must be within [0, 1], got %v", p.Sensitivity)
	}
	return nil
}

// Forecast projects params.Metric params.Horizon years past the last record.
//
// Output length is historicalCount + 1 (junction) + horizon. Projected values
// are rounded to whole units; the fit itself runs at full precision.
func Forecast(backend calc.NumericBackend, records *models.RecordSet, params ForecastParams) (*ForecastResult, error) {
	if records == nil {
		return nil, calc.Invalid("records", "record set is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	// 1. Usable (year, value) pairs
	xs, ys := records.Series(params.Metric)
	if len(xs) < 2 {
		return nil, &calc.InsufficientDataError{Metric: params.Metric, Have: len(xs), Need: 2}
	}

	// 2. Trend
	trend, err := calc.FitTrend(backend, xs, ys)
	if err != nil {
		return nil, fmt.Errorf("fit %s trend: %w", params.Metric, err)
	}

	points := make([]ForecastPoint, 0, records.Len()+1+params.Horizon)

	// 3. Historical rows
	for _, rec := range records.Records() {
		p := ForecastPoint{Year: rec.Year}
		if v, ok := rec.Value(params.Metric); ok {
			p.Historical = ptr(v)
		}
		points = append(points, p)
	}

	// 4. Junction: zero-width band on the last actual
	lastYear := records.LastYear()
	lastValue := ys[len(ys)-1]
	points = append(points, ForecastPoint{
		Year:           lastYear,
		Historical:     ptr(lastValue),
		Forecast:       ptr(lastValue),
		High:           ptr(lastValue),
		Low:            ptr(lastValue),
		ConfidenceBand: &[2]float64{lastValue, lastValue},
	})

	// 5. Projected rows with a linearly widening spread
	for i := 1; i <= params.Horizon; i++ {
		year := lastYear + i
		point := trend.At(float64(year))
		spread := params.Sensitivity * (float64(i) / float64(params.Horizon))

		forecast := calc.Round(point, 0)
		high := calc.Round(point*(1+spread), 0)
		low := calc.Round(point*(1-spread), 0)

		points = append(points, ForecastPoint{
			Year:           year,
			Forecast:       ptr(forecast),
			High:           ptr(high),
			Low:            ptr(low),
			ConfidenceBand: &[2]float64{low, high},
		})
	}

	return &ForecastResult{
		Metric:      params.Metric,
		Horizon:     params.Horizon,
		Sensitivity: params.Sensitivity,
		Trend:       trend,
		Points:      points,
	}, nil
}

func ptr(v float64) *float64 { return &v }
