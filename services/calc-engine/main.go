// Command calc-engine runs one engine computation from the command line and
// prints the result as JSON (HTML or Markdown for reports).
//
//	calc-engine -mode analyze -file financials.csv -data '{"valuation":{"shares_outstanding":100}}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"quant_valuation/pkg/config"
	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/core/engine"
	"quant_valuation/pkg/core/ingest"
	"quant_valuation/pkg/core/narrative"
	"quant_valuation/pkg/core/report"
	"quant_valuation/pkg/logger"
	"quant_valuation/pkg/models"
)

// Modes accepted by -mode.
const (
	modeForecast    = "forecast"
	modeValuate     = "valuate"
	modeSensitivity = "sensitivity"
	modeScan        = "scan"
	modeAnalyze     = "analyze"
	modeReport      = "report"
	modeSample      = "sample"
)

// payload is the -data JSON: records plus the request sections.
type payload struct {
	Records        []models.FinancialRecord `json:"records"`
	Forecast       engine.ForecastRequest   `json:"forecast"`
	Valuation      engine.ValuationRequest  `json:"valuation"`
	WACCs          []float64                `json:"waccs"`
	Growths        []float64                `json:"terminal_growths"`
	RequiredFields []string                 `json:"required_fields"`
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("calc-engine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mode := fs.String("mode", modeAnalyze, "Mode: forecast, valuate, sensitivity, scan, analyze, report or sample")
	dataStr := fs.String("data", "", "JSON data payload")
	file := fs.String("file", "", "Records file (CSV, JSON/Hjson or HTML table)")
	format := fs.String("format", "", "Records file format (csv, json, html); sniffed when empty")
	backendKind := fs.String("backend", "", "Numeric backend (lua or native); overrides config")
	cfgPath := fs.String("config", "", "Config file (default config/engine.yaml when present)")
	output := fs.String("output", "html", "Report output: html or markdown")
	seed := fs.Int64("seed", 1, "Sample mode: generator seed")
	startYear := fs.Int("start-year", 2018, "Sample mode: first year")
	years := fs.Int("years", 6, "Sample mode: number of years")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch *mode {
	case modeForecast, modeValuate, modeSensitivity, modeScan, modeAnalyze, modeReport, modeSample:
	default:
		return fmt.Errorf("unknown mode: %s", *mode)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *backendKind != "" {
		cfg.Backend.Kind = *backendKind
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: stderr})
	backend := calc.NewBackend(ctx, cfg.Backend.Kind, cfg.Backend.InitTimeout, log)
	eng := engine.New(backend, engine.OptionsFromConfig(cfg), log)
	ingestor := ingest.New(ingest.Options{BudgetRatio: cfg.Defaults.BudgetRatio}, log)

	if *mode == modeSample {
		rs, err := ingestor.Generate(*seed, *startYear, *years)
		if err != nil {
			return err
		}
		return writeJSON(stdout, rs)
	}

	var p payload
	if *dataStr != "" {
		if err := json.Unmarshal([]byte(*dataStr), &p); err != nil {
			return fmt.Errorf("unmarshal -data: %w", err)
		}
	}

	records, err := loadRecords(ingestor, p, *file, *format)
	if err != nil {
		return err
	}

	switch *mode {
	case modeForecast:
		res, err := eng.Forecast(ctx, records, p.Forecast)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]interface{}{
			"forecast":  res,
			"narrative": narrative.Analyze(res.Points, res.Horizon),
		})
	case modeValuate:
		res, err := eng.Valuate(ctx, records, p.Valuation)
		if err != nil {
			return err
		}
		return writeJSON(stdout, res)
	case modeSensitivity:
		grid, err := eng.Sensitivity(ctx, records, engine.SensitivityRequest{
			ValuationRequest: p.Valuation,
			WACCs:            p.WACCs,
			Growths:          p.Growths,
		})
		if err != nil {
			return err
		}
		return writeJSON(stdout, grid)
	case modeScan:
		return writeJSON(stdout, eng.Scan(records, p.RequiredFields))
	case modeAnalyze, modeReport:
		res, err := eng.Analyze(ctx, engine.AnalysisRequest{
			Records:        records,
			Forecast:       p.Forecast,
			Valuation:      p.Valuation,
			RequiredFields: p.RequiredFields,
		})
		if err != nil {
			return err
		}
		if *mode == modeAnalyze {
			return writeJSON(stdout, res)
		}
		if *output == "markdown" {
			_, err := io.WriteString(stdout, report.Markdown(res))
			return err
		}
		page, err := report.HTML(res)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, page)
		return err
	}
	return nil
}

func loadRecords(in *ingest.Ingestor, p payload, file, format string) (*models.RecordSet, error) {
	if file == "" {
		if len(p.Records) == 0 {
			return nil, errors.New("no records: pass -file or records in -data")
		}
		return in.Build(p.Records)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	f, err := ingest.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return in.Ingest(data, f)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
