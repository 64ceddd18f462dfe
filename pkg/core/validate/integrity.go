package validate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"quant_valuation/pkg/models"
)

// Defaults for ScanOptions zero values.
const (
	DefaultPenalty   = 5
	DefaultMinYear   = 2000
	DefaultMaxYear   = 2030
	DefaultAnomalyZ  = 2.0
	minAnomalySample = 5
)

// DefaultRequiredFields are checked when no required fields are given.
var DefaultRequiredFields = []string{models.FieldRevenue, models.FieldNetIncome}

// ScanOptions tunes the integrity scan. Zero values select the defaults;
// a negative AnomalyZ disables anomalous-year detection.
type ScanOptions struct {
	Penalty  int     `yaml:"penalty" json:"penalty"`
	MinYear  int     `yaml:"min_year" json:"min_year"`
	MaxYear  int     `yaml:"max_year" json:"max_year"`
	AnomalyZ float64 `yaml:"anomaly_z" json:"anomaly_z"`
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.Penalty <= 0 {
		o.Penalty = DefaultPenalty
	}
	if o.MinYear == 0 {
		o.MinYear = DefaultMinYear
	}
	if o.MaxYear == 0 {
		o.MaxYear = DefaultMaxYear
	}
	if o.AnomalyZ == 0 {
		o.AnomalyZ = DefaultAnomalyZ
	}
	return o
}

// IntegrityReport is the advisory result of a scan.
type IntegrityReport struct {
	Score    int      `json:"score"` // 0..100
	Findings []string `json:"findings"`
}

// ScanIntegrity scores records for missing or invalid required fields.
//
// Every null/NaN required value costs opts.Penalty points (score floor 0).
// Years outside [MinYear, MaxYear] and anomalous year-over-year changes are
// reported without penalty.
func ScanIntegrity(records *models.RecordSet, required []string, opts ScanOptions) IntegrityReport {
	opts = opts.withDefaults()
	if len(required) == 0 {
		required = DefaultRequiredFields
	}

	report := IntegrityReport{Score: 100, Findings: []string{}}
	if records == nil || records.Len() == 0 {
		report.Score = 0
		report.Findings = append(report.Findings, "No records to scan")
		return report
	}

	rows := records.Records()

	// 1. Null / invalid required values
	for i, rec := range rows {
		for _, field := range required {
			if _, ok := rec.Value(field); ok {
				continue
			}
			report.Findings = append(report.Findings, fmt.Sprintf("Null value in row %d, col %s", i, field))
			report.Score -= opts.Penalty
		}
	}
	if report.Score < 0 {
		report.Score = 0
	}

	// 2. Implausible years (informational)
	for i, rec := range rows {
		if rec.Year < opts.MinYear || rec.Year > opts.MaxYear {
			report.Findings = append(report.Findings, fmt.Sprintf(
				"Year %d in row %d is outside the plausible range %d-%d", rec.Year, i, opts.MinYear, opts.MaxYear))
		}
	}

	// 3. Anomalous years (informational)
	if opts.AnomalyZ > 0 {
		for _, field := range required {
			report.Findings = append(report.Findings, anomalies(rows, field, opts.AnomalyZ)...)
		}
	}

	return report
}

// anomalies flags year-over-year changes whose z-score against the field's
// own change history exceeds threshold.
func anomalies(rows []models.FinancialRecord, field string, threshold float64) []string {
	var (
		changes []float64
		years   []int
	)
	for i := 1; i < len(rows); i++ {
		prev, ok1 := rows[i-1].Value(field)
		cur, ok2 := rows[i].Value(field)
		if !ok1 || !ok2 || prev == 0 {
			continue
		}
		changes = append(changes, CalculateYoY(cur, prev))
		years = append(years, rows[i].Year)
	}
	if len(changes) < minAnomalySample {
		return nil
	}

	mean, std := stat.MeanStdDev(changes, nil)
	if std == 0 || math.IsNaN(std) {
		return nil
	}

	var findings []string
	for i, c := range changes {
		z := (c - mean) / std
		if math.Abs(z) > threshold {
			findings = append(findings, fmt.Sprintf(
				"Anomalous change in %s for %d: %+.1f%% (z=%.2f)", field, years[i], c, z))
		}
	}
	return findings
}
