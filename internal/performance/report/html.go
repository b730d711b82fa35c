// Package report renders a saved JSON report as a standalone HTML page.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/output"
)

// ReportData contains all data needed to render the HTML report.
type ReportData struct {
	Title          string
	RunID          string
	Generated      time.Time
	Start          time.Time
	End            time.Time
	Aggregate      *metrics.Report
	Legacy         metrics.LegacySummary
	Counters       []NamedValue
	Histograms     []HistogramRow
	Checks         []output.CheckResult
	Passed         bool
	TimeSeriesJSON template.JS
}

// NamedValue is one counter or rate line.
type NamedValue struct {
	Name  string
	Value string
}

// HistogramRow is the summary of one histogram metric.
type HistogramRow struct {
	Name    string
	Summary metrics.Summary
}

// TimeSeriesPoint represents one intermediate report in the chart data.
type TimeSeriesPoint struct {
	Timestamp string  `json:"timestamp"`
	Requests  int64   `json:"requests"`
	RPS       float64 `json:"rps"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
	P99       float64 `json:"p99"`
	Errors    int64   `json:"errors"`
	VUsers    int64   `json:"vusers"`
}

// GenerateHTML renders fr and writes it to outputPath.
func GenerateHTML(fr *output.FileReport, title, outputPath string) error {
	html, err := GenerateHTMLString(fr, title)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}

	return nil
}

// GenerateHTMLString renders fr as an HTML document.
func GenerateHTMLString(fr *output.FileReport, title string) (string, error) {
	if fr == nil || fr.Aggregate == nil {
		return "", fmt.Errorf("report cannot be empty")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	timeSeriesJSON, err := convertTimeSeriesJSON(fr.Intermediate)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}

	if title == "" {
		title = "Load test report"
	}
	data := ReportData{
		Title:          title,
		RunID:          fr.RunID,
		Generated:      time.Now(),
		Aggregate:      fr.Aggregate,
		Legacy:         fr.Aggregate.Legacy(),
		Counters:       counterRows(fr.Aggregate),
		Histograms:     histogramRows(fr.Aggregate),
		Checks:         fr.Checks,
		Passed:         checksPassed(fr.Checks),
		TimeSeriesJSON: template.JS(timeSeriesJSON),
	}
	data.Start, data.End = span(fr)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// span returns the time covered by the report, preferring the intermediate
// windows when present.
func span(fr *output.FileReport) (time.Time, time.Time) {
	start, end := fr.Aggregate.FirstMetricAt, fr.Aggregate.LastMetricAt
	if n := len(fr.Intermediate); n > 0 {
		start = fr.Intermediate[0].Period
		end = fr.Intermediate[n-1].PeriodEnd
	}
	return start, end
}

func counterRows(r *metrics.Report) []NamedValue {
	rows := make([]NamedValue, 0, len(r.Counters)+len(r.RateCounts))
	for name, v := range r.Counters {
		rows = append(rows, NamedValue{Name: name, Value: formatNumber(v)})
	}
	for name, v := range r.Rates() {
		rows = append(rows, NamedValue{Name: name, Value: formatFloat(v) + "/sec"})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func histogramRows(r *metrics.Report) []HistogramRow {
	names := r.HistogramNames()
	rows := make([]HistogramRow, 0, len(names))
	for _, name := range names {
		s, _ := r.Summary(name)
		rows = append(rows, HistogramRow{Name: name, Summary: s})
	}
	return rows
}

// checksPassed reports whether no strict check failed.
func checksPassed(checks []output.CheckResult) bool {
	for _, c := range checks {
		if c.Strict && !c.Passed {
			return false
		}
	}
	return true
}

// convertTimeSeriesJSON converts the intermediate reports to chart points.
func convertTimeSeriesJSON(series []*metrics.Report) (string, error) {
	if len(series) == 0 {
		return "[]", nil
	}

	points := make([]TimeSeriesPoint, len(series))
	for i, r := range series {
		p := TimeSeriesPoint{
			Timestamp: r.PeriodEnd.Format(time.RFC3339),
			Requests:  r.Counter(metrics.HTTPRequests),
			RPS:       r.Rate(metrics.HTTPRequestRate),
			VUsers:    r.Counter(metrics.VUsersCreated),
		}
		if s, ok := r.Summary(metrics.HTTPResponseTime); ok {
			p.P50, p.P95, p.P99 = s.P50, s.P95, s.P99
		}
		for name, v := range r.Counters {
			if strings.HasPrefix(name, metrics.ErrorsPrefix) {
				p.Errors += v
			}
		}
		points[i] = p
	}

	jsonBytes, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}

	return string(jsonBytes), nil
}

// templateFuncs returns the template helper functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatNumber": formatNumber,
		"formatFloat":  formatFloat,
		"formatTime":   formatTime,
		"formatSpan":   formatSpan,
		"errorRate":    errorRate,
	}
}

// formatNumber formats a large number with commas.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := strconv.FormatInt(n, 10)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatSpan formats the distance between two times.
func formatSpan(start, end time.Time) string {
	if start.IsZero() || end.Before(start) {
		return "-"
	}
	return end.Sub(start).Round(time.Second).String()
}

// errorRate returns failed VUs as a percentage of created VUs.
func errorRate(r *metrics.Report) string {
	created := r.Counter(metrics.VUsersCreated)
	if created == 0 {
		return "0"
	}
	rate := float64(r.Counter(metrics.VUsersFailed)) / float64(created) * 100
	return strconv.FormatFloat(rate, 'f', 2, 64)
}
