package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/valuation"
	"quant_valuation/pkg/models"
)

func records(t *testing.T, withFCF bool) *models.RecordSet {
	t.Helper()
	rows := []models.FinancialRecord{}
	for i, rev := range []float64{100, 110, 120} {
		m := map[string]float64{"Revenue": rev, "NetIncome": rev / 10}
		if withFCF {
			m["FreeCashFlow"] = 12 + float64(i)
		}
		rows = append(rows, models.NewRecord(2020+i, m))
	}
	rs, err := models.NewRecordSet(rows)
	require.NoError(t, err)
	return rs
}

func newEngine(backend calc.NumericBackend) *Engine {
	return New(backend, DefaultOptions(), zerolog.Nop())
}

func f(v float64) *float64 { return &v }

func TestAnalyze_AllSections(t *testing.T) {
	e := newEngine(nil)
	res, err := e.Analyze(context.Background(), AnalysisRequest{
		Records:   records(t, true),
		Forecast:  ForecastRequest{Horizon: 2, Sensitivity: f(0.1)},
		Valuation: ValuationRequest{WACC: f(0.10), TerminalGrowth: f(0.02), NetDebt: 50, SharesOutstanding: 10},
	})
	require.NoError(t, err)

	_, err = uuid.Parse(res.ID)
	assert.NoError(t, err)
	assert.Equal(t, calc.BackendNative, res.Backend)
	assert.False(t, res.GeneratedAt.IsZero())
	assert.Len(t, res.Records, 3)
	assert.Equal(t, 100, res.Integrity.Score)
	assert.Nil(t, res.Errors)

	require.NotNil(t, res.Forecast)
	assert.Equal(t, "Revenue", res.Forecast.Metric)
	assert.Len(t, res.Forecast.Points, 6)

	require.NotNil(t, res.Narrative)
	assert.Equal(t, 140.0, res.Narrative.EndValue)

	require.NotNil(t, res.Valuation)
	direct, err := valuation.CalculateDCF(nil, records(t, true), valuation.DCFInput{
		WACC: 0.10, TerminalGrowth: 0.02, NetDebt: 50, SharesOutstanding: 10, ExitMultiple: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, direct.SharePrice, res.Valuation.SharePrice)
}

func TestAnalyze_SectionErrors(t *testing.T) {
	res, err := newEngine(nil).Analyze(context.Background(), AnalysisRequest{
		Records:   records(t, false),
		Valuation: ValuationRequest{SharesOutstanding: 1},
	})
	require.NoError(t, err)

	assert.NotNil(t, res.Forecast)
	assert.Nil(t, res.Valuation)
	require.Contains(t, res.Errors, SectionValuation)
	assert.Contains(t, res.Errors[SectionValuation], "insufficient data")
}

func TestAnalyze_InvalidParameters(t *testing.T) {
	e := newEngine(nil)
	_, err := e.Analyze(context.Background(), AnalysisRequest{
		Records:  records(t, true),
		Forecast: ForecastRequest{Sensitivity: f(3)},
	})
	assert.True(t, errors.Is(err, calc.ErrInvalidInput))

	_, err = e.Analyze(context.Background(), AnalysisRequest{
		Records:   records(t, true),
		Valuation: ValuationRequest{WACC: f(-2)},
	})
	assert.True(t, errors.Is(err, calc.ErrInvalidInput))

	_, err = e.Analyze(context.Background(), AnalysisRequest{})
	assert.True(t, errors.Is(err, calc.ErrInvalidInput))
}

func TestAnalyze_WACCBuildUp(t *testing.T) {
	res, err := newEngine(nil).Analyze(context.Background(), AnalysisRequest{
		Records: records(t, true),
		Valuation: ValuationRequest{
			WACC: f(0.5), // ignored in favour of the build-up
			WACCInputs: &valuation.WACCInput{
				UnleveredBeta: 1, RiskFreeRate: 0.04, MarketRiskPremium: 0.05,
				PreTaxCostOfDebt: 0.06, TaxRate: 0.25, DebtToEquityRatio: 0.5,
			},
			SharesOutstanding: 1,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.WACC)

	direct, err := valuation.CalculateDCF(nil, records(t, true), valuation.DCFInput{
		WACC: res.WACC.WACC, TerminalGrowth: 0.025, SharesOutstanding: 1, ExitMultiple: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, direct.SharePrice, res.Valuation.SharePrice)
}

func TestForecast_Defaults(t *testing.T) {
	res, err := newEngine(nil).Forecast(context.Background(), records(t, false), ForecastRequest{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMetric, res.Metric)
	assert.Equal(t, 5, res.Horizon)
	assert.Equal(t, 0.10, res.Sensitivity)
}

func TestSensitivity(t *testing.T) {
	grid, err := newEngine(nil).Sensitivity(context.Background(), records(t, true), SensitivityRequest{
		ValuationRequest: ValuationRequest{SharesOutstanding: 1},
		WACCs:            []float64{0.08, 0.09, 0.10},
		Growths:          []float64{0.02, 0.03},
	})
	require.NoError(t, err)
	assert.Len(t, grid.SharePrices, 3)
	assert.Len(t, grid.SharePrices[0], 2)
}

func TestScan_RequiredOverride(t *testing.T) {
	e := newEngine(nil)
	assert.Equal(t, 100, e.Scan(records(t, false), nil).Score)
	// three records without FreeCashFlow
	assert.Equal(t, 85, e.Scan(records(t, false), []string{"FreeCashFlow"}).Score)
}

type slowBackend struct {
	calc.NativeBackend
	delay time.Duration
}

func (b slowBackend) FitTrend(xs, ys []float64) (calc.TrendModel, error) {
	time.Sleep(b.delay)
	return b.NativeBackend.FitTrend(xs, ys)
}

func TestCompute_Timeout(t *testing.T) {
	opts := DefaultOptions()
	opts.ComputeTimeout = 20 * time.Millisecond
	e := New(slowBackend{delay: 300 * time.Millisecond}, opts, zerolog.Nop())

	start := time.Now()
	_, err := e.Forecast(context.Background(), records(t, true), ForecastRequest{})
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.True(t, errors.Is(err, ErrComputeTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = e.Analyze(context.Background(), AnalysisRequest{Records: records(t, true)})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCompute_Cancelled(t *testing.T) {
	e := New(slowBackend{delay: 100 * time.Millisecond}, DefaultOptions(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Valuate(ctx, records(t, true), ValuationRequest{SharesOutstanding: 1})
	assert.True(t, errors.Is(err, context.Canceled))
}

type panicBackend struct {
	calc.NativeBackend
}

func (panicBackend) FitTrend(xs, ys []float64) (calc.TrendModel, error) {
	panic("fit exploded")
}

func TestCompute_PanicBecomesError(t *testing.T) {
	e := newEngine(panicBackend{})

	_, err := e.Forecast(context.Background(), records(t, true), ForecastRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComputePanic))
	assert.Contains(t, err.Error(), "fit exploded")

	_, err = e.Analyze(context.Background(), AnalysisRequest{Records: records(t, true)})
	assert.True(t, errors.Is(err, ErrComputePanic))
}

func TestForecast_HorizonLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxHorizon = 8
	e := New(nil, opts, zerolog.Nop())

	res, err := e.Forecast(context.Background(), records(t, false), ForecastRequest{Horizon: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Horizon)

	_, err = e.Forecast(context.Background(), records(t, false), ForecastRequest{Horizon: 9})
	assert.True(t, errors.Is(err, calc.ErrInvalidInput))

	_, err = e.Analyze(context.Background(), AnalysisRequest{
		Records:  records(t, true),
		Forecast: ForecastRequest{Horizon: 1 << 62},
	})
	assert.True(t, errors.Is(err, calc.ErrInvalidInput))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 2*time.Second, opts.ComputeTimeout)
	assert.Equal(t, 5, opts.Horizon)
	assert.Equal(t, 50, opts.MaxHorizon)
	assert.Equal(t, 15.0, opts.ExitMultiple)
	assert.Equal(t, []string{"Revenue", "NetIncome"}, opts.RequiredFields)
	assert.Equal(t, 5, opts.Scan.Penalty)
}
