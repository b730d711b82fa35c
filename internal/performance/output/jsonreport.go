package output

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wesleyorama2/barrage/internal/performance/engine"
	"github.com/wesleyorama2/barrage/internal/performance/ensure"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

// FileReport is the JSON report written with -o. Reports of several workers
// or machines merge into one with MergeFileReports.
type FileReport struct {
	RunID        string                 `json:"runId,omitempty"`
	Aggregate    *metrics.Report        `json:"aggregate"`
	Intermediate []*metrics.Report      `json:"intermediate"`
	Legacy       *metrics.LegacySummary `json:"legacy,omitempty"`
	Checks       []CheckResult          `json:"checks,omitempty"`
}

// CheckResult is the serialised form of an ensure result.
type CheckResult struct {
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Strict     bool    `json:"strict"`
	Actual     float64 `json:"actual"`
	Error      string  `json:"error,omitempty"`
}

// NewFileReport builds the report file content from a run result.
func NewFileReport(result *engine.Result) *FileReport {
	fr := &FileReport{
		RunID:        result.RunID,
		Aggregate:    result.Aggregate,
		Intermediate: result.Intermediate,
		Checks:       checkResults(result.Outcome.Results),
	}
	if fr.Aggregate == nil {
		fr.Aggregate = metrics.NewReport(result.StartTime)
	}
	if fr.Intermediate == nil {
		fr.Intermediate = []*metrics.Report{}
	}
	legacy := fr.Aggregate.Legacy()
	fr.Legacy = &legacy
	return fr
}

func checkResults(results []ensure.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		c := CheckResult{Expression: r.Expression, Passed: r.Passed, Strict: r.Strict, Actual: r.Actual}
		if r.Err != nil {
			c.Error = r.Err.Error()
		}
		out = append(out, c)
	}
	return out
}

// WriteFileReport writes fr as indented JSON to path.
func WriteFileReport(path string, fr *FileReport) error {
	data, err := json.MarshalIndent(fr, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// ReadFileReport reads a report written by WriteFileReport.
func ReadFileReport(path string) (*FileReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	var fr FileReport
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("failed to parse report file %s: %w", path, err)
	}
	if fr.Aggregate == nil {
		return nil, fmt.Errorf("report file %s has no aggregate", path)
	}
	return &fr, nil
}

// MergeFileReports merges aggregates exactly and intermediate reports by
// index. Checks are dropped since they no longer describe the merged data.
func MergeFileReports(reports ...*FileReport) *FileReport {
	aggs := make([]*metrics.Report, 0, len(reports))
	series := make([][]*metrics.Report, 0, len(reports))
	for _, r := range reports {
		aggs = append(aggs, r.Aggregate)
		series = append(series, r.Intermediate)
	}
	out := &FileReport{
		Aggregate:    metrics.MergeAll(aggs...),
		Intermediate: metrics.MergeByIndex(series),
	}
	if len(reports) == 1 {
		out.RunID = reports[0].RunID
	}
	legacy := out.Aggregate.Legacy()
	out.Legacy = &legacy
	return out
}
