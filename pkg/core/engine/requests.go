package engine

import (
	"errors"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/projection"
	"quant_valuation/pkg/core/valuation"
)

// ForecastRequest selects a forecast. Zero/nil fields take engine defaults;
// Metric defaults to Revenue.
type ForecastRequest struct {
	Metric      string   `json:"metric,omitempty"`
	Horizon     int      `json:"horizon,omitempty"`
	Sensitivity *float64 `json:"sensitivity,omitempty"`
}

// ValuationRequest carries the DCF scalars. WACC is taken from WACCInputs
// when given, else from WACC, else from the engine default.
type ValuationRequest struct {
	WACC              *float64             `json:"wacc,omitempty"`
	WACCInputs        *valuation.WACCInput `json:"wacc_inputs,omitempty"`
	TerminalGrowth    *float64             `json:"terminal_growth,omitempty"`
	NetDebt           float64              `json:"net_debt"`
	SharesOutstanding float64              `json:"shares_outstanding"`
	ExitMultiple      float64              `json:"exit_multiple,omitempty"`
}

// SensitivityRequest is a valuation swept over WACC x terminal growth.
type SensitivityRequest struct {
	ValuationRequest
	WACCs   []float64 `json:"waccs"`
	Growths []float64 `json:"terminal_growths"`
}

func (e *Engine) forecastParams(req ForecastRequest) projection.ForecastParams {
	p := projection.ForecastParams{
		Metric:      req.Metric,
		Horizon:     req.Horizon,
		Sensitivity: e.opts.Sensitivity,
		MaxHorizon:  e.opts.MaxHorizon,
	}
	if p.Metric == "" {
		p.Metric = DefaultMetric
	}
	if p.Horizon == 0 {
		p.Horizon = e.opts.Horizon
	}
	if req.Sensitivity != nil {
		p.Sensitivity = *req.Sensitivity
	}
	return p
}

// dcfInput resolves request defaults. The WACC build-up, when used, is
// returned alongside.
func (e *Engine) dcfInput(req ValuationRequest) (valuation.DCFInput, *valuation.WACCResult, error) {
	in := valuation.DCFInput{
		WACC:              e.opts.WACC,
		TerminalGrowth:    e.opts.TerminalGrowth,
		NetDebt:           req.NetDebt,
		SharesOutstanding: req.SharesOutstanding,
		ExitMultiple:      req.ExitMultiple,
	}
	if in.ExitMultiple == 0 {
		in.ExitMultiple = e.opts.ExitMultiple
	}
	if req.TerminalGrowth != nil {
		in.TerminalGrowth = *req.TerminalGrowth
	}

	var build *valuation.WACCResult
	switch {
	case req.WACCInputs != nil:
		res, err := valuation.CalculateWACC(*req.WACCInputs)
		if err != nil {
			return valuation.DCFInput{}, nil, err
		}
		in.WACC = res.WACC
		build = &res
	case req.WACC != nil:
		in.WACC = *req.WACC
	}

	if err := in.Validate(); err != nil {
		return valuation.DCFInput{}, nil, err
	}
	return in, build, nil
}

func nilIfEmpty(required []string) []string {
	if len(required) == 0 {
		return nil
	}
	return required
}

// isCallerError reports errors caused by request parameters rather than data.
func isCallerError(err error) bool {
	return errors.Is(err, calc.ErrInvalidInput)
}
