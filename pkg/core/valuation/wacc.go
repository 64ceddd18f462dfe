package valuation

import "quant_valuation/pkg/core/calc"

// WACCInput parameters for calculating Cost of Capital
type WACCInput struct {
	UnleveredBeta     float64 `json:"unlevered_beta"`
	RiskFreeRate      float64 `json:"risk_free_rate"`
	MarketRiskPremium float64 `json:"market_risk_premium"`
	PreTaxCostOfDebt  float64 `json:"pre_tax_cost_of_debt"`
	TaxRate           float64 `json:"tax_rate"`
	DebtToEquityRatio float64 `json:"debt_to_equity"` // target leverage (D/E)
}

// WACCResult holds the calculated rates
type WACCResult struct {
	LeveredBeta  float64 `json:"levered_beta"`
	CostOfEquity float64 `json:"cost_of_equity"`
	CostOfDebt   float64 `json:"cost_of_debt"` // after tax
	WACC         float64 `json:"wacc"`
	WeightDebt   float64 `json:"weight_debt"`
	WeightEquity float64 `json:"weight_equity"`
}

// CalculateWACC computes the Weighted Average Cost of Capital using CAPM and the Hamada equation.
func CalculateWACC(input WACCInput) (WACCResult, error) {
	if input.DebtToEquityRatio < 0 {
		return WACCResult{}, calc.Invalid("debt_to_equity", "must not be negative, got %v", input.DebtToEquityRatio)
	}
	if input.TaxRate < 0 || input.TaxRate >= 1 {
		return WACCResult{}, calc.Invalid("tax_rate", "must be within [0, 1), got %v", input.TaxRate)
	}

	// 1. Re-lever beta: BetaL = BetaU * (1 + (1-t)*(D/E))
	leveredBeta := input.UnleveredBeta * (1 + (1-input.TaxRate)*input.DebtToEquityRatio)

	// 2. Cost of equity (CAPM): Ke = Rf + BetaL * ERP
	ke := input.RiskFreeRate + leveredBeta*input.MarketRiskPremium

	// 3. After-tax cost of debt
	kd := input.PreTaxCostOfDebt * (1 - input.TaxRate)

	// 4. Weights from D/E = x: Wd = x/(1+x), We = 1/(1+x)
	wd := input.DebtToEquityRatio / (1 + input.DebtToEquityRatio)
	we := 1.0 / (1 + input.DebtToEquityRatio)

	return WACCResult{
		LeveredBeta:  leveredBeta,
		CostOfEquity: ke,
		CostOfDebt:   kd,
		WACC:         ke*we + kd*wd,
		WeightDebt:   wd,
		WeightEquity: we,
	}, nil
}
