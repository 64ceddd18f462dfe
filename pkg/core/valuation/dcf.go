package valuation

import (
	"fmt"
	"math"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// ProjectionYears is the explicit forecast period of the two-stage model.
const ProjectionYears = 5

// DefaultExitMultiple capitalises the final-year FCF when the Gordon growth
// perpetuity does not converge (wacc <= terminal growth).
const DefaultExitMultiple = 15.0

// Terminal value methods reported in DCFResult.TerminalMethod.
const (
	TerminalGordonGrowth = "gordon_growth"
	TerminalExitMultiple = "exit_multiple"
)

// Bridge row names, in output order.
const (
	BridgeDiscountedFCF = "Sum of Discounted FCF"
	BridgeDiscountedTV  = "Discounted Terminal Value"
	BridgeEnterprise    = "Enterprise Value"
)

// DCFInput encapsulates all inputs required for a Discounted Cash Flow valuation
type DCFInput struct {
	WACC              float64 `json:"wacc"`            // e.g. 0.09
	TerminalGrowth    float64 `json:"terminal_growth"` // e.g. 0.025
	NetDebt           float64 `json:"net_debt"`        // currency units
	SharesOutstanding float64 `json:"shares_outstanding"`
	ExitMultiple      float64 `json:"exit_multiple,omitempty"` // 0 = DefaultExitMultiple
}

// YearValue is one projected year.
type YearValue struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// BridgeItem is one bar of the value bridge.
type BridgeItem struct {
	Name            string  `json:"name"`
	Value           float64 `json:"value"`
	IsTotal         bool    `json:"is_total"`
	ContributionPct float64 `json:"contribution_pct"`
}

// DCFResult holds the valuation outputs
type DCFResult struct {
	SharePrice      float64         `json:"share_price"`
	Bridge          [3]BridgeItem   `json:"bridge"`
	EnterpriseValue float64         `json:"enterprise_value"`
	EquityValue     float64         `json:"equity_value"`
	PV_FCF          float64         `json:"pv_fcf"`
	TerminalValue   float64         `json:"terminal_value"`
	PV_Terminal     float64         `json:"pv_terminal"`
	TerminalMethod  string          `json:"terminal_method"`
	ProjectedFCF    []YearValue     `json:"projected_fcf"`
	Trend           calc.TrendModel `json:"trend"`

	// SharePriceUndefined is set when shares outstanding is not positive;
	// SharePrice is then 0.
	SharePriceUndefined bool     `json:"share_price_undefined,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
}

// Validate rejects rates the discounting cannot handle.
func (in DCFInput) Validate() error {
	if math.IsNaN(in.WACC) || math.IsInf(in.WACC, 0) || in.WACC <= -1 {
		return calc.Invalid("wacc", "must be finite and greater than -1, got %v", in.WACC)
	}
	if math.IsNaN(in.TerminalGrowth) || math.IsInf(in.TerminalGrowth, 0) {
		return calc.Invalid("terminal_growth", "must be finite, got %v", in.TerminalGrowth)
	}
	if math.IsNaN(in.NetDebt) || math.IsInf(in.NetDebt, 0) {
		return calc.Invalid("net_debt", "must be finite, got %v", in.NetDebt)
	}
	if in.ExitMultiple < 0 || math.IsNaN(in.ExitMultiple) {
		return calc.Invalid("exit_multiple", "must not be negative, got %v", in.ExitMultiple)
	}
	return nil
}

// CalculateDCF performs a 2-stage DCF on the FreeCashFlow trend of records:
// five trend-projected years discounted at WACC plus a discounted terminal value.
func CalculateDCF(backend calc.NumericBackend, records *models.RecordSet, input DCFInput) (*DCFResult, error) {
	if records == nil {
		return nil, calc.Invalid("records", "record set is required")
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = calc.NativeBackend{}
	}

	// 1. FCF trend
	xs, ys := records.Series(models.FieldFreeCashFlow)
	if len(xs) < 2 {
		return nil, &calc.InsufficientDataError{Metric: models.FieldFreeCashFlow, Have: len(xs), Need: 2}
	}
	trend, err := calc.FitTrend(backend, xs, ys)
	if err != nil {
		return nil, fmt.Errorf("fit FCF trend: %w", err)
	}

	// 2. Explicit period
	lastYear := records.LastYear()
	flows := make([]float64, ProjectionYears)
	projected := make([]YearValue, ProjectionYears)
	for i := 1; i <= ProjectionYears; i++ {
		fcf := trend.At(float64(lastYear + i))
		flows[i-1] = fcf
		projected[i-1] = YearValue{Year: lastYear + i, Value: fcf}
	}

	// 3. Discounted explicit cash flows
	pvFCF, err := backend.DiscountedSum(flows, input.WACC)
	if err != nil {
		return nil, fmt.Errorf("discount FCF: %w", err)
	}

	// 4. Terminal value (Gordon growth, exit multiple when it does not converge)
	finalFCF := flows[ProjectionYears-1]
	multiple := input.ExitMultiple
	if multiple == 0 {
		multiple = DefaultExitMultiple
	}
	method := TerminalGordonGrowth
	tv, ok := calc.GordonTerminalValue(finalFCF, input.WACC, input.TerminalGrowth)
	if !ok {
		tv = finalFCF * multiple
		method = TerminalExitMultiple
	}

	// 5. Discount TV over the explicit period
	pvTerminal := calc.PresentValue(tv, input.WACC, ProjectionYears)

	// 6. Aggregation
	ev := pvFCF + pvTerminal
	eqVal := ev - input.NetDebt

	result := &DCFResult{
		EnterpriseValue: ev,
		EquityValue:     eqVal,
		PV_FCF:          pvFCF,
		TerminalValue:   tv,
		PV_Terminal:     pvTerminal,
		TerminalMethod:  method,
		ProjectedFCF:    projected,
		Trend:           trend,
	}
	if method == TerminalExitMultiple {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"WACC %.4f does not exceed terminal growth %.4f; terminal value uses a %.1fx exit multiple",
			input.WACC, input.TerminalGrowth, multiple))
	}

	if input.SharesOutstanding > 0 {
		result.SharePrice = eqVal / input.SharesOutstanding
	} else {
		result.SharePriceUndefined = true
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"shares outstanding %v is not positive; share price reported as 0", input.SharesOutstanding))
	}

	// 7. Bridge
	result.Bridge = buildBridge(pvFCF, pvTerminal, ev)
	return result, nil
}

func buildBridge(pvFCF, pvTerminal, ev float64) [3]BridgeItem {
	pct := func(v float64) float64 {
		if ev == 0 {
			return 0
		}
		return calc.Round(v/ev*100, 1)
	}
	return [3]BridgeItem{
		{Name: BridgeDiscountedFCF, Value: pvFCF, ContributionPct: pct(pvFCF)},
		{Name: BridgeDiscountedTV, Value: pvTerminal, ContributionPct: pct(pvTerminal)},
		{Name: BridgeEnterprise, Value: ev, IsTotal: true, ContributionPct: 100.0},
	}
}
