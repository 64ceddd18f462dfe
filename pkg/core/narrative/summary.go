// Package narrative turns a completed forecast series into a short
// rule-based description of its growth phase.
package narrative

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"quant_valuation/pkg/core/projection"
	"quant_valuation/pkg/core/validate"
)

// Growth phase labels.
const (
	DirectionExpansion   = "expansion"
	DirectionContraction = "contraction"

	StrengthAggressive = "aggressive"
	StrengthModerate   = "moderate"
	StrengthStable     = "stable"
)

// Strength thresholds on |CAGR| in percent.
const (
	aggressiveAbove = 10.0
	moderateAbove   = 5.0
)

// InsufficientDataText is returned when the series lacks actuals or projections.
const InsufficientDataText = "Insufficient data to summarize the projection."

// Summary is the structured form behind the sentence.
type Summary struct {
	StartValue float64 `json:"start_value"`
	EndValue   float64 `json:"end_value"`
	Horizon    int     `json:"horizon"`
	CAGR       float64 `json:"cagr"` // percent
	Defined    bool    `json:"defined"`
	Direction  string  `json:"direction,omitempty"`
	Strength   string  `json:"strength,omitempty"`
	Text       string  `json:"text"`
}

var printer = message.NewPrinter(language.English)

// Summarize returns the templated sentence for series.
func Summarize(series []projection.ForecastPoint, horizon int) string {
	return Analyze(series, horizon).Text
}

// Analyze classifies the growth between the last actual and the last
// projected value of series.
func Analyze(series []projection.ForecastPoint, horizon int) Summary {
	var start, end *float64
	for i := range series {
		if series[i].Historical != nil {
			start = series[i].Historical
		}
		if series[i].Forecast != nil {
			end = series[i].Forecast
		}
	}
	if start == nil || end == nil {
		return Summary{Horizon: horizon, Text: InsufficientDataText}
	}

	s := Summary{StartValue: *start, EndValue: *end, Horizon: horizon}

	cagr, ok := validate.CalculateCAGR(s.StartValue, s.EndValue, horizon)
	if !ok {
		s.Text = printer.Sprintf(
			"The projection reaches %.0f over %d years; a growth rate is undefined from a starting value of %.0f.",
			s.EndValue, horizon, s.StartValue)
		return s
	}

	s.CAGR = cagr
	s.Defined = true
	s.Direction = DirectionContraction
	if cagr > 0 {
		s.Direction = DirectionExpansion
	}
	switch abs := math.Abs(cagr); {
	case abs > aggressiveAbove:
		s.Strength = StrengthAggressive
	case abs > moderateAbove:
		s.Strength = StrengthModerate
	default:
		s.Strength = StrengthStable
	}

	article := "a"
	if s.Strength == StrengthAggressive {
		article = "an"
	}
	s.Text = printer.Sprintf(
		"Model indicates %s %s %s phase with a CAGR of %.1f%%, reaching %.0f by the end of the %d-year horizon.",
		article, s.Strength, s.Direction, cagr, s.EndValue, horizon)
	return s
}
