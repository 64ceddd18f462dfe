package valuation

import (
	"fmt"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// MaxGridValues caps each axis of a sensitivity grid.
const MaxGridValues = 50

// SensitivityGrid is share price by (WACC row, terminal growth column).
type SensitivityGrid struct {
	WACCs          []float64   `json:"waccs"`
	TerminalGrowth []float64   `json:"terminal_growth"`
	SharePrices    [][]float64 `json:"share_prices"`
	ExitMultiple   [][]bool    `json:"exit_multiple"` // cell used the exit-multiple fallback
}

// CalculateSensitivity reruns CalculateDCF for every WACC x growth pair.
// base supplies net debt, shares and exit multiple.
func CalculateSensitivity(backend calc.NumericBackend, records *models.RecordSet, base DCFInput, waccs, growths []float64) (*SensitivityGrid, error) {
	if len(waccs) == 0 || len(growths) == 0 {
		return nil, calc.Invalid("grid", "at least one WACC and one growth value are required")
	}
	if len(waccs) > MaxGridValues || len(growths) > MaxGridValues {
		return nil, calc.Invalid("grid", "at most %d values per axis, got %d x %d", MaxGridValues, len(waccs), len(growths))
	}

	grid := &SensitivityGrid{
		WACCs:          append([]float64(nil), waccs...),
		TerminalGrowth: append([]float64(nil), growths...),
		SharePrices:    make([][]float64, len(waccs)),
		ExitMultiple:   make([][]bool, len(waccs)),
	}
	for i, w := range waccs {
		grid.SharePrices[i] = make([]float64, len(growths))
		grid.ExitMultiple[i] = make([]bool, len(growths))
		for j, g := range growths {
			in := base
			in.WACC = w
			in.TerminalGrowth = g
			res, err := CalculateDCF(backend, records, in)
			if err != nil {
				return nil, fmt.Errorf("wacc %v, growth %v: %w", w, g, err)
			}
			grid.SharePrices[i][j] = res.SharePrice
			grid.ExitMultiple[i][j] = res.TerminalMethod == TerminalExitMultiple
		}
	}
	return grid, nil
}
