package ingest

import (
	"encoding/json"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// ParseJSON reads an array of flat year objects, or an object wrapping one
// under "records" or "data". Input is decoded leniently: strict JSON first,
// then Hjson (comments, unquoted keys, trailing commas), then repaired JSON
// (truncated or single-quoted input).
func ParseJSON(data []byte) ([]models.FinancialRecord, error) {
	raw, err := decodeLenient(string(data))
	if err != nil {
		return nil, err
	}
	rows, err := rowsOf(raw)
	if err != nil {
		return nil, err
	}

	records := make([]models.FinancialRecord, 0, len(rows))
	for i, row := range rows {
		canon := make(map[string]interface{}, len(row))
		for k, v := range row {
			canon[CanonicalColumn(k)] = normaliseValue(v)
		}
		rec, err := models.RecordFromMap(canon)
		if err != nil {
			return nil, errRow(i+1, "%v", err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, calc.Invalid("records", "no data rows")
	}
	return records, nil
}

// decodeLenient tries each decoding strategy in turn.
func decodeLenient(input string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(input), &v); err == nil {
		return v, nil
	}

	v = nil
	if err := hjson.Unmarshal([]byte(input), &v); err == nil {
		return v, nil
	}

	if repaired, err := jsonrepair.RepairJSON(input); err == nil {
		v = nil
		if err := json.Unmarshal([]byte(repaired), &v); err == nil {
			if _, ok := v.(string); !ok {
				return v, nil
			}
		}
	}
	return nil, calc.Invalid("records", "input is not JSON or Hjson")
}

func rowsOf(v interface{}) ([]map[string]interface{}, error) {
	if obj, ok := v.(map[string]interface{}); ok {
		for _, key := range []string{"records", "data", "Records"} {
			if inner, ok := obj[key]; ok {
				return rowsOf(inner)
			}
		}
		return []map[string]interface{}{obj}, nil
	}

	arr, ok := v.([]interface{})
	if !ok {
		return nil, calc.Invalid("records", "expected an array of year objects")
	}
	rows := make([]map[string]interface{}, 0, len(arr))
	for i, item := range arr {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, errRow(i+1, "expected an object, got %T", item)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// normaliseValue applies the spreadsheet cell rules to string values so
// "$1,234" and "" behave as in CSV input.
func normaliseValue(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	f, present := parseCell(strings.TrimSpace(s))
	if !present {
		return nil
	}
	return f
}
