// Package ingest turns uploaded files (CSV, JSON/HJSON, HTML tables) into a
// validated RecordSet: column names are normalised, cell text is cleaned and
// the Budget default is applied before the set is built.
package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// DefaultBudgetRatio derives a missing Budget from Revenue.
const DefaultBudgetRatio = 0.95

// Format names an input encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat accepts a format name or a content type.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "", s == "auto":
		return FormatAuto, nil
	case s == "csv", strings.Contains(s, "text/csv"):
		return FormatCSV, nil
	case s == "json", s == "hjson", strings.Contains(s, "json"):
		return FormatJSON, nil
	case s == "html", strings.Contains(s, "text/html"):
		return FormatHTML, nil
	}
	return FormatAuto, calc.Invalid("format", "unsupported input format %q", s)
}

// Options controls ingestion.
type Options struct {
	// BudgetRatio is applied as round(Revenue * BudgetRatio) when a record
	// has no Budget. Zero selects DefaultBudgetRatio.
	BudgetRatio float64
}

// Ingestor parses uploads into record sets.
type Ingestor struct {
	opts Options
	log  zerolog.Logger
}

// New creates an Ingestor.
func New(opts Options, log zerolog.Logger) *Ingestor {
	if opts.BudgetRatio <= 0 {
		opts.BudgetRatio = DefaultBudgetRatio
	}
	return &Ingestor{opts: opts, log: log.With().Str("component", "ingest").Logger()}
}

// Ingest decodes data in the given format (FormatAuto sniffs it), fills the
// Budget default and builds the RecordSet.
func (in *Ingestor) Ingest(data []byte, format Format) (*models.RecordSet, error) {
	if format == FormatAuto {
		format = DetectFormat(data)
	}

	var (
		records []models.FinancialRecord
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = ParseCSV(bytes.NewReader(data))
	case FormatJSON:
		records, err = ParseJSON(data)
	case FormatHTML:
		records, err = ParseHTMLTable(bytes.NewReader(data))
	default:
		err = calc.Invalid("format", "unsupported input format %q", format)
	}
	if err != nil {
		in.log.Warn().Err(err).Str("format", string(format)).Msg("ingest failed")
		return nil, err
	}

	rs, err := in.Build(records)
	if err != nil {
		return nil, err
	}
	in.log.Debug().Str("format", string(format)).Int("records", rs.Len()).Msg("records ingested")
	return rs, nil
}

// Build canonicalises metric names, fills missing Budgets in place and
// validates records into a RecordSet.
func (in *Ingestor) Build(records []models.FinancialRecord) (*models.RecordSet, error) {
	for i := range records {
		CanonicalizeMetrics(&records[i])
	}
	if filled := ApplyBudgetDefault(records, in.opts.BudgetRatio); filled > 0 {
		in.log.Debug().Int("records", filled).Float64("ratio", in.opts.BudgetRatio).Msg("Budget derived from Revenue")
	}
	rs, err := models.NewRecordSet(records)
	if err != nil {
		return nil, calc.Invalid("records", "%v", err)
	}
	return rs, nil
}

// CanonicalizeMetrics renames metric keys through CanonicalColumn. When an
// alias and its canonical name are both present, the canonical key wins.
func CanonicalizeMetrics(rec *models.FinancialRecord) {
	renamed := make(map[string]float64, len(rec.Metrics))
	for k, v := range rec.Metrics {
		name := CanonicalColumn(k)
		if _, dup := renamed[name]; dup && name != k {
			continue
		}
		renamed[name] = v
	}
	rec.Metrics = renamed
}

// DetectFormat sniffs the payload: markup is HTML, a leading bracket or
// brace is JSON, anything else is CSV.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatCSV
	}
	switch trimmed[0] {
	case '<':
		return FormatHTML
	case '[', '{':
		return FormatJSON
	}
	return FormatCSV
}

// ApplyBudgetDefault sets Budget = round(Revenue * ratio) on every record
// without a Budget key and with a usable Revenue. It returns how many
// records were filled.
func ApplyBudgetDefault(records []models.FinancialRecord, ratio float64) int {
	if ratio <= 0 {
		ratio = DefaultBudgetRatio
	}
	filled := 0
	for i := range records {
		if records[i].Has(models.FieldBudget) {
			continue
		}
		rev, ok := records[i].Value(models.FieldRevenue)
		if !ok {
			continue
		}
		if records[i].Metrics == nil {
			records[i].Metrics = map[string]float64{}
		}
		records[i].Metrics[models.FieldBudget] = calc.Round(rev*ratio, 0)
		filled++
	}
	return filled
}

// columnAliases maps normalised header text to canonical metric names.
var columnAliases = map[string]string{
	"year":          models.FieldYear,
	"fiscalyear":    models.FieldYear,
	"fy":            models.FieldYear,
	"revenue":       models.FieldRevenue,
	"revenues":      models.FieldRevenue,
	"totalrevenue":  models.FieldRevenue,
	"sales":         models.FieldRevenue,
	"netincome":     models.FieldNetIncome,
	"netprofit":     models.FieldNetIncome,
	"fcf":           models.FieldFreeCashFlow,
	"freecashflow":  models.FieldFreeCashFlow,
	"budget":        models.FieldBudget,
	"budgetrevenue": models.FieldBudget,
	"revenuebudget": models.FieldBudget,
}

// CanonicalColumn maps a header such as "Net Income" or "free_cash_flow"
// to its metric name. Unknown headers are returned trimmed.
func CanonicalColumn(name string) string {
	name = strings.TrimSpace(name)
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.', '\t':
			return -1
		}
		return r
	}, strings.ToLower(name))
	if canon, ok := columnAliases[key]; ok {
		return canon
	}
	return name
}

func errRow(row int, format string, args ...interface{}) error {
	return calc.Invalid("records", "row %d: %s", row, fmt.Sprintf(format, args...))
}
