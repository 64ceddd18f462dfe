package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// ParseCSV reads a header row followed by one row per year. Column names
// go through CanonicalColumn; a Year column is required.
func ParseCSV(r io.Reader) ([]models.FinancialRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, calc.Invalid("records", "empty CSV input")
	}
	if err != nil {
		return nil, calc.Invalid("records", "read CSV header: %v", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, calc.Invalid("records", "read CSV: %v", err)
		}
		rows = append(rows, row)
	}
	return tableToRecords(header, rows)
}

// tableToRecords converts a header plus text rows (CSV or HTML) into records.
// Blank rows are skipped; cells beyond the header are ignored.
func tableToRecords(header []string, rows [][]string) ([]models.FinancialRecord, error) {
	columns := make([]string, len(header))
	yearCol := -1
	for i, h := range header {
		columns[i] = CanonicalColumn(strings.TrimPrefix(h, "\ufeff"))
		if columns[i] == models.FieldYear && yearCol < 0 {
			yearCol = i
		}
	}
	if yearCol < 0 {
		return nil, calc.Invalid("records", "no Year column in header %v", header)
	}

	records := make([]models.FinancialRecord, 0, len(rows))
	for n, row := range rows {
		if blank(row) {
			continue
		}
		if yearCol >= len(row) {
			return nil, errRow(n+1, "missing Year cell")
		}
		year, err := parseYear(row[yearCol])
		if err != nil {
			return nil, errRow(n+1, "%v", err)
		}

		rec := models.FinancialRecord{Year: year, Metrics: map[string]float64{}}
		for i, cell := range row {
			if i == yearCol || i >= len(columns) || columns[i] == "" {
				continue
			}
			if v, ok := parseCell(cell); ok {
				rec.Metrics[columns[i]] = v
			}
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, calc.Invalid("records", "no data rows")
	}
	return records, nil
}

// parseCell cleans spreadsheet-style number text: currency symbols,
// thousands separators and accounting parentheses. An empty cell is
// absent; anything else that does not parse is kept as NaN.
func parseCell(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	clean := strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "").Replace(s)
	neg := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		neg = true
		clean = clean[1 : len(clean)-1]
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return math.NaN(), true
	}
	if neg {
		v = -v
	}
	return v, true
}

func parseYear(s string) (int, error) {
	v, ok := parseCell(s)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, calc.Invalid("Year", "not an integer year: %q", s)
	}
	return int(v), nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
