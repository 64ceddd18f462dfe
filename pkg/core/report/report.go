// Package report renders an analysis as Markdown and, through goldmark,
// as a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"quant_valuation/pkg/core/engine"
	"quant_valuation/pkg/core/valuation"
)

var printer = message.NewPrinter(language.English)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown writes the report for res.
func Markdown(res *engine.AnalysisResult) string {
	var sb strings.Builder

	sb.WriteString("# Financial Analysis Report\n\n")
	fmt.Fprintf(&sb, "- Analysis ID: `%s`\n", res.ID)
	fmt.Fprintf(&sb, "- Generated: %s\n", res.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Numeric backend: %s\n", res.Backend)
	if n := len(res.Records); n > 0 {
		fmt.Fprintf(&sb, "- Records: %d (%d-%d)\n", n, res.Records[0].Year, res.Records[n-1].Year)
	}
	sb.WriteString("\n")

	writeIntegrity(&sb, res)
	if res.Forecast != nil {
		writeForecast(&sb, res)
	}
	if res.Valuation != nil {
		writeValuation(&sb, res.Valuation, res.WACC)
	}

	if len(res.Errors) > 0 {
		sb.WriteString("## Unavailable Sections\n\n")
		for _, name := range []string{engine.SectionForecast, engine.SectionValuation} {
			if msg, ok := res.Errors[name]; ok {
				fmt.Fprintf(&sb, "- **%s**: %s\n", name, msg)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeIntegrity(sb *strings.Builder, res *engine.AnalysisResult) {
	sb.WriteString("## Data Integrity\n\n")
	fmt.Fprintf(sb, "Score: **%d / 100**\n\n", res.Integrity.Score)
	if len(res.Integrity.Findings) == 0 {
		sb.WriteString("No findings.\n\n")
		return
	}
	for _, f := range res.Integrity.Findings {
		fmt.Fprintf(sb, "- %s\n", f)
	}
	sb.WriteString("\n")
}

func writeForecast(sb *strings.Builder, res *engine.AnalysisResult) {
	fc := res.Forecast
	fmt.Fprintf(sb, "## %s Forecast\n\n", fc.Metric)
	fmt.Fprintf(sb, "Horizon %d years, band ±%s%% at the horizon. ", fc.Horizon, printer.Sprintf("%.1f", fc.Sensitivity*100))
	fmt.Fprintf(sb, "Trend: %s per year (R² %.3f, %d points).\n\n",
		printer.Sprintf("%+.2f", fc.Trend.Slope), fc.Trend.RSquared, fc.Trend.N)

	sb.WriteString("| Year | Actual | Forecast | Low | High |\n")
	sb.WriteString("|---:|---:|---:|---:|---:|\n")
	for _, p := range fc.Points {
		if p.IsJunction() {
			continue
		}
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s |\n",
			p.Year, num(p.Historical), num(p.Forecast), num(p.Low), num(p.High))
	}
	sb.WriteString("\n")

	if res.Narrative != nil {
		fmt.Fprintf(sb, "> %s\n\n", res.Narrative.Text)
	}
}

func writeValuation(sb *strings.Builder, v *valuation.DCFResult, build *valuation.WACCResult) {
	sb.WriteString("## DCF Valuation\n\n")
	if v.SharePriceUndefined {
		sb.WriteString("Implied share price: **undefined** (shares outstanding not positive)\n\n")
	} else {
		fmt.Fprintf(sb, "Implied share price: **%s**\n\n", printer.Sprintf("%.2f", v.SharePrice))
	}

	sb.WriteString("| Component | Value | Share of EV |\n")
	sb.WriteString("|---|---:|---:|\n")
	for _, item := range v.Bridge {
		name := item.Name
		if item.IsTotal {
			name = "**" + name + "**"
		}
		fmt.Fprintf(sb, "| %s | %s | %.1f%% |\n", name, printer.Sprintf("%.0f", item.Value), item.ContributionPct)
	}
	fmt.Fprintf(sb, "| Equity Value | %s | |\n\n", printer.Sprintf("%.0f", v.EquityValue))

	method := "Gordon growth"
	if v.TerminalMethod == valuation.TerminalExitMultiple {
		method = "exit multiple"
	}
	fmt.Fprintf(sb, "Terminal value (%s): %s.\n\n", method, printer.Sprintf("%.0f", v.TerminalValue))

	if build != nil {
		fmt.Fprintf(sb, "WACC build-up: levered beta %.2f, cost of equity %.2f%%, after-tax cost of debt %.2f%%, WACC %.2f%%.\n\n",
			build.LeveredBeta, build.CostOfEquity*100, build.CostOfDebt*100, build.WACC*100)
	}

	if len(v.Warnings) > 0 {
		sb.WriteString("Warnings:\n\n")
		for _, w := range v.Warnings {
			fmt.Fprintf(sb, "- %s\n", w)
		}
		sb.WriteString("\n")
	}
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return printer.Sprintf("%.0f", *v)
}

// RenderHTML converts Markdown to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// HTML renders res as a complete HTML document.
func HTML(res *engine.AnalysisResult) (string, error) {
	body, err := RenderHTML(Markdown(res))
	if err != nil {
		return "", err
	}
	title := "Financial Analysis Report"
	if res.ID != "" {
		title += " " + res.ID
	}
	return fmt.Sprintf(pageTemplate, html.EscapeString(title), body), nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 56rem; margin: 2rem auto; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.25rem 0.75rem; }
</style>
</head>
<body>
%s</body>
</html>
`
