package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/engine"
	"quant_valuation/pkg/core/ingest"
	"quant_valuation/pkg/core/valuation"
)

const recordsJSON = `[
	{"Year": 2020, "Revenue": 100, "NetIncome": 10, "FreeCashFlow": 12},
	{"Year": 2021, "Revenue": 110, "NetIncome": 11, "FreeCashFlow": 13},
	{"Year": 2022, "Revenue": 120, "NetIncome": 12, "FreeCashFlow": 14}
]`

func newTestServer(t *testing.T, opts engine.Options, backend calc.NumericBackend) http.Handler {
	t.Helper()
	return New(Config{
		Log:      zerolog.Nop(),
		Engine:   engine.New(backend, opts, zerolog.Nop()),
		Ingestor: ingest.New(ingest.Options{}, zerolog.Nop()),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, engine.DefaultOptions(), nil), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "native", body["backend"])
}

func TestForecast(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": `+recordsJSON+`, "metric": "Revenue", "horizon": 2, "sensitivity": 0.1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Revenue", body["metric"])
	points := body["points"].([]interface{})
	require.Len(t, points, 6)
	last := points[5].(map[string]interface{})
	assert.Equal(t, 2024.0, last["year"])
	assert.Equal(t, 140.0, last["forecast"])
	assert.Equal(t, []interface{}{126.0, 154.0}, last["confidence_band"])
	assert.NotEmpty(t, body["narrative"].(map[string]interface{})["text"])
}

func TestForecast_ErrorStatuses(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)

	rec := do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": [{"Year": 2022, "Revenue": 120}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "insufficient data")

	rec = do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": `+recordsJSON+`, "sensitivity": 4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/forecast", "application/json", `{"records": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": [{"Year": 2020, "Revenue": 1}, {"Year": 2020, "Revenue": 2}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/forecast", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecast_HugeHorizonRejected(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)

	rec := do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": `+recordsJSON+`, "horizon": 4611686018427387904}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["error"], "horizon")

	rec = do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": `+recordsJSON+`, "horizon": 51}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/analyze", "application/json",
		`{"records": `+recordsJSON+`, "forecast": {"horizon": 4611686018427387904}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForecast_LowercaseMetricNames(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodPost, "/api/forecast", "application/json",
		`{"records": [{"year": 2020, "revenue": 100}, {"year": 2021, "revenue": 110}], "horizon": 1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	points := decode(t, rec)["points"].([]interface{})
	assert.Equal(t, 120.0, points[len(points)-1].(map[string]interface{})["forecast"])
}

type panicBackend struct {
	calc.NativeBackend
}

func (panicBackend) FitTrend(xs, ys []float64) (calc.TrendModel, error) {
	panic("fit exploded")
}

func TestForecast_PanicIsInternalError(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), panicBackend{})
	rec := do(t, h, http.MethodPost, "/api/forecast", "application/json", `{"records": `+recordsJSON+`}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")

	// the server keeps serving
	rec = do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValuation(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodPost, "/api/valuation", "application/json",
		`{"records": `+recordsJSON+`, "wacc": 0.05, "terminal_growth": 0.08, "shares_outstanding": 1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "exit_multiple", body["terminal_method"])
	bridge := body["bridge"].([]interface{})
	require.Len(t, bridge, 3)
	total := bridge[2].(map[string]interface{})
	assert.Equal(t, "Enterprise Value", total["name"])
	assert.Equal(t, true, total["is_total"])
	assert.Equal(t, 100.0, total["contribution_pct"])
}

func TestSensitivity(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodPost, "/api/valuation/sensitivity", "application/json",
		`{"records": `+recordsJSON+`, "shares_outstanding": 1, "waccs": [0.08, 0.1], "terminal_growths": [0.02]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	prices := decode(t, rec)["share_prices"].([]interface{})
	assert.Len(t, prices, 2)

	rec = do(t, h, http.MethodPost, "/api/valuation/sensitivity", "application/json",
		`{"records": `+recordsJSON+`, "waccs": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	waccs := make([]string, valuation.MaxGridValues+1)
	for i := range waccs {
		waccs[i] = "0.1"
	}
	rec = do(t, h, http.MethodPost, "/api/valuation/sensitivity", "application/json",
		`{"records": `+recordsJSON+`, "shares_outstanding": 1, "waccs": [`+strings.Join(waccs, ",")+`], "terminal_growths": [0.02]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "per axis")
}

func TestIntegrity(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodPost, "/api/integrity", "application/json", `{"records": [
		{"Year": 2020, "Revenue": 100, "NetIncome": 10},
		{"Year": 2021, "Revenue": null, "NetIncome": 11},
		{"Year": 2022, "Revenue": 120, "NetIncome": 12},
		{"Year": 2023, "NetIncome": 13}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 90.0, body["score"])
	assert.Equal(t, []interface{}{
		"Null value in row 1, col Revenue",
		"Null value in row 3, col Revenue",
	}, body["findings"])
}

func TestAnalyze(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodPost, "/api/analyze", "application/json",
		`{"sample": {"seed": 3, "start_year": 2015, "years": 8}, "valuation": {"shares_outstanding": 100}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Len(t, body["records"], 8)
	assert.NotNil(t, body["forecast"])
	assert.NotNil(t, body["valuation"])
	assert.NotNil(t, body["narrative"])
	assert.Nil(t, body["errors"])
}

func TestReport(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	payload := `{"records": ` + recordsJSON + `, "valuation": {"shares_outstanding": 1}}`

	rec := do(t, h, http.MethodPost, "/api/report", "application/json", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Financial Analysis Report</h1>")

	rec = do(t, h, http.MethodPost, "/api/report?format=markdown", "application/json", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# Financial Analysis Report"))
}

func TestIngest(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	csv := "Year,Revenue,Net Income\n2021,1100,\n2020,1000,100\n"

	rec := do(t, h, http.MethodPost, "/api/ingest", "text/csv", csv)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)

	records := body["records"].([]interface{})
	require.Len(t, records, 2)
	first := records[0].(map[string]interface{})
	assert.Equal(t, 2020.0, first["Year"])
	assert.Equal(t, 950.0, first["Budget"])

	integrity := body["integrity"].(map[string]interface{})
	assert.Equal(t, 95.0, integrity["score"])

	rec = do(t, h, http.MethodPost, "/api/ingest?format=html", "", "<p>no table</p>")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSample(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	rec := do(t, h, http.MethodGet, "/api/sample?seed=9&years=4&start_year=2020", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["records"], 4)

	rec = do(t, h, http.MethodGet, "/api/sample?years=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/sample?years=500", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type slowBackend struct {
	calc.NativeBackend
}

func (b slowBackend) FitTrend(xs, ys []float64) (calc.TrendModel, error) {
	time.Sleep(200 * time.Millisecond)
	return b.NativeBackend.FitTrend(xs, ys)
}

func TestComputeTimeout(t *testing.T) {
	opts := engine.DefaultOptions()
	opts.ComputeTimeout = 10 * time.Millisecond
	h := newTestServer(t, opts, slowBackend{})

	rec := do(t, h, http.MethodPost, "/api/forecast", "application/json", `{"records": `+recordsJSON+`}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, engine.DefaultOptions(), nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/forecast", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://dashboard.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
