package ingest

import (
	"math/rand"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// Sample series shape.
const (
	sampleBaseRevenue = 1000.0
	sampleMinGrowth   = 0.04
	sampleGrowthRange = 0.08
	sampleMinMargin   = 0.10
	sampleMarginRange = 0.06
	sampleMinFCFRatio = 0.75
	sampleFCFRange    = 0.35
)

// Generate produces a deterministic sample series for demos: revenue grows
// 4-12% a year, net income is a 10-16% margin and free cash flow 75-110% of
// net income. Budget is left absent. The same seed yields the same series.
func Generate(seed int64, startYear, years int) []models.FinancialRecord {
	if years <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))

	out := make([]models.FinancialRecord, 0, years)
	revenue := sampleBaseRevenue
	for i := 0; i < years; i++ {
		if i > 0 {
			revenue *= 1 + sampleMinGrowth + rng.Float64()*sampleGrowthRange
		}
		netIncome := revenue * (sampleMinMargin + rng.Float64()*sampleMarginRange)
		fcf := netIncome * (sampleMinFCFRatio + rng.Float64()*sampleFCFRange)

		out = append(out, models.NewRecord(startYear+i, map[string]float64{
			models.FieldRevenue:      calc.Round(revenue, 0),
			models.FieldNetIncome:    calc.Round(netIncome, 0),
			models.FieldFreeCashFlow: calc.Round(fcf, 0),
		}))
	}
	return out
}

// Generate builds a RecordSet from the sample generator with the configured
// Budget default applied.
func (in *Ingestor) Generate(seed int64, startYear, years int) (*models.RecordSet, error) {
	if years <= 0 {
		return nil, calc.Invalid("years", "must be positive, got %d", years)
	}
	return in.Build(Generate(seed, startYear, years))
}
