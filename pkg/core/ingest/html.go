package ingest

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"quant_valuation/pkg/core/calc"
	"quant_valuation/pkg/models"
)

// ParseHTMLTable reads the first <table> whose first row has a Year column.
// Both td and th cells count; the first non-empty row is the header.
func ParseHTMLTable(r io.Reader) ([]models.FinancialRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, calc.Invalid("records", "parse HTML: %v", err)
	}

	var (
		header []string
		rows   [][]string
		found  bool
	)
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var h []string
		var body [][]string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if blank(cells) {
				return
			}
			if h == nil {
				h = cells
				return
			}
			body = append(body, cells)
		})
		if hasYearColumn(h) {
			header, rows, found = h, body, true
			return false
		}
		return true
	})

	if !found {
		return nil, calc.Invalid("records", "no HTML table with a Year column")
	}
	return tableToRecords(header, rows)
}

func hasYearColumn(header []string) bool {
	for _, h := range header {
		if CanonicalColumn(h) == models.FieldYear {
			return true
		}
	}
	return false
}
