package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Standard metric names carried by every ingested record.
const (
	FieldYear         = "Year"
	FieldRevenue      = "Revenue"
	FieldNetIncome    = "NetIncome"
	FieldFreeCashFlow = "FreeCashFlow"
	FieldBudget       = "Budget"
)

// FinancialRecord is one fiscal year's observation.
// A metric is either present (a number) or absent (missing key). NaN marks a
// source cell that could not be read as a number.
type FinancialRecord struct {
	Year    int
	Metrics map[string]float64
}

// NewRecord builds a record from a year and a metric map (the map is copied).
func NewRecord(year int, metrics map[string]float64) FinancialRecord {
	m := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		m[k] = v
	}
	return FinancialRecord{Year: year, Metrics: m}
}

// Value returns the metric value and whether it is present and numeric.
func (r FinancialRecord) Value(metric string) (float64, bool) {
	v, ok := r.Metrics[metric]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Has reports whether the metric key exists, valid or not.
func (r FinancialRecord) Has(metric string) bool {
	_, ok := r.Metrics[metric]
	return ok
}

func (r FinancialRecord) clone() FinancialRecord {
	return NewRecord(r.Year, r.Metrics)
}

// MarshalJSON writes the flat form {"Year":2020,"Revenue":100}. Invalid values are written as null.
func (r FinancialRecord) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(`{"Year":`)
	buf.WriteString(strconv.Itoa(r.Year))
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		v := r.Metrics[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the flat form. null values are treated as absent, numeric
// strings are parsed, and any other value is kept as NaN.
func (r *FinancialRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec, err := RecordFromMap(raw)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// RecordFromMap converts a decoded row (JSON/HJSON object) into a record.
func RecordFromMap(raw map[string]interface{}) (FinancialRecord, error) {
	rec := FinancialRecord{Metrics: make(map[string]float64, len(raw))}
	yearSeen := false
	for k, v := range raw {
		if strings.EqualFold(k, FieldYear) {
			year, ok := toNumber(v)
			if !ok || year != math.Trunc(year) {
				return FinancialRecord{}, fmt.Errorf("invalid Year value %v", v)
			}
			rec.Year = int(year)
			yearSeen = true
			continue
		}
		if v == nil {
			continue
		}
		n, ok := toNumber(v)
		if !ok {
			n = math.NaN()
		}
		rec.Metrics[k] = n
	}
	if !yearSeen {
		return FinancialRecord{}, fmt.Errorf("record has no Year")
	}
	return rec, nil
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// =============================================================================
// RECORD SET
// =============================================================================

// RecordSet is an immutable, year-ordered collection of records with unique years.
type RecordSet struct {
	records []FinancialRecord
}

// NewRecordSet validates and sorts the records. The input slice is copied.
func NewRecordSet(records []FinancialRecord) (*RecordSet, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("record set requires at least one record")
	}

	sorted := make([]FinancialRecord, len(records))
	for i, r := range records {
		sorted[i] = r.clone()
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Year == sorted[i-1].Year {
			return nil, fmt.Errorf("duplicate year %d", sorted[i].Year)
		}
	}
	return &RecordSet{records: sorted}, nil
}

// Len returns the number of records.
func (s *RecordSet) Len() int { return len(s.records) }

// At returns a copy of the i-th record in year order.
func (s *RecordSet) At(i int) FinancialRecord { return s.records[i].clone() }

// Records returns a copy of all records in year order.
func (s *RecordSet) Records() []FinancialRecord {
	out := make([]FinancialRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.clone()
	}
	return out
}

// FirstYear and LastYear bound the set.
func (s *RecordSet) FirstYear() int { return s.records[0].Year }
func (s *RecordSet) LastYear() int  { return s.records[len(s.records)-1].Year }

// Series extracts (year, value) pairs for records where metric is present and numeric.
func (s *RecordSet) Series(metric string) (xs, ys []float64) {
	for _, r := range s.records {
		if v, ok := r.Value(metric); ok {
			xs = append(xs, float64(r.Year))
			ys = append(ys, v)
		}
	}
	return xs, ys
}

// MarshalJSON writes the set as a JSON array of flat records.
func (s *RecordSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.records)
}
