package output

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/engine"
	"github.com/wesleyorama2/barrage/internal/performance/ensure"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/scheduler"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleReport(requests int64) *metrics.Report {
	r := metrics.NewReport(t0)
	r.PeriodEnd = t0.Add(10 * time.Second)
	r.AddCounter(metrics.HTTPRequests, requests)
	r.AddCounter(metrics.HTTPCodesPrefix+"200", requests)
	r.AddCounter(metrics.VUsersCreated, requests)
	r.AddRate(metrics.HTTPRequestRate, requests)
	for i := int64(1); i <= requests; i++ {
		r.Observe(metrics.HTTPResponseTime, float64(i))
	}
	return r
}

func newTestConsole(buf *bytes.Buffer, quiet bool) *Console {
	return NewConsole(ConsoleConfig{Writer: buf, Quiet: quiet, NoColor: true})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.number))
		})
	}
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "2", formatFloat(2))
	assert.Equal(t, "2.5", formatFloat(2.5))
	assert.Equal(t, "0.333", formatFloat(1.0/3))
}

func TestConsole_NotTTYForBuffer(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, newTestConsole(&buf, false).IsTTY())
}

func TestConsole_MetricLine(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false)

	line := c.metricLine("http.requests", "20", 0)
	assert.Len(t, line, lineWidth)
	assert.True(t, strings.HasPrefix(line, "http.requests: ..."))
	assert.True(t, strings.HasSuffix(line, " 20"))

	long := c.metricLine(strings.Repeat("x", 90), "1", 2)
	assert.Contains(t, long, ": ... 1")
}

func TestConsole_PrintInterval(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false)

	c.PrintInterval(sampleReport(4))
	out := buf.String()

	assert.Contains(t, out, "Metrics for period to:")
	assert.Contains(t, out, "(width: 10.0s)")
	assert.Regexp(t, `http\.codes\.200: \.+ 4\n`, out)
	assert.Regexp(t, `http\.request_rate: \.+ 0\.4/sec\n`, out)
	assert.Contains(t, out, "http.response_time:\n")
	assert.Regexp(t, `  max: \.+ 4(\.\d+)?\n`, out)
	assert.Regexp(t, `  median: \.+ 2\n`, out)

	codes := strings.Index(out, "http.codes.200")
	requests := strings.Index(out, "http.requests")
	assert.Less(t, codes, requests, "metrics are sorted by name")

	buf.Reset()
	c.PrintInterval(metrics.NewReport(t0))
	assert.Empty(t, buf.String(), "empty intervals are not printed")
}

func TestConsole_PrintPhase(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false)

	c.PrintPhase(scheduler.PhaseEvent{
		Index: 1,
		Phase: config.ArrivalRate{PhaseMeta: config.PhaseMeta{Name: "ramp", Duration: time.Minute}, Rate: 5},
		Time:  t0,
	})
	assert.Contains(t, buf.String(), "Phase started: ramp (index: 1, duration: 1m 00s)")
}

func TestConsole_PrintSummary(t *testing.T) {
	result := &engine.Result{
		RunID:     "run-1",
		Duration:  12 * time.Second,
		EndTime:   t0,
		Aggregate: sampleReport(20),
		Abandoned: 2,
		Outcome: ensure.Outcome{
			Results: []ensure.Result{
				{Expression: "p99 < 250", Passed: true, Strict: true, Actual: 19.9},
				{Expression: "vusers.failed == 0", Passed: false, Strict: true, Actual: 3},
				{Expression: "http.request_rate > 100", Passed: false, Strict: false, Actual: 2},
				{Expression: "custom.p95 < 1", Strict: true, Err: errors.New("no data for metric")},
			},
			AssertionFailures: 1234,
		},
	}

	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintSummary(result)
	out := buf.String()

	assert.Contains(t, out, "All VUs finished. Total time: 12.0s")
	assert.Contains(t, out, "Summary report @")
	assert.Regexp(t, `vusers\.created: \.+ 20\n`, out)
	assert.Contains(t, out, "2 VUs cancelled after the grace period")
	assert.Contains(t, out, "ok: p99 < 250\n")
	assert.Contains(t, out, "fail: vusers.failed == 0 (actual: 3)\n")
	assert.Contains(t, out, "fail: http.request_rate > 100 (actual: 2, non-strict)\n")
	assert.Contains(t, out, "fail: custom.p95 < 1 (no data for metric)\n")
	assert.Contains(t, out, "Expectation failures: 1,234")
}

func TestConsole_QuietPrintsOnlyOutcome(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, true)

	c.PrintInterval(sampleReport(3))
	c.PrintSummary(&engine.Result{
		Aggregate: sampleReport(3),
		Outcome: ensure.Outcome{
			Results: []ensure.Result{{Expression: "p99 < 250", Passed: true, Strict: true}},
			Fatal:   errors.New("processor not found"),
		},
	})

	out := buf.String()
	assert.NotContains(t, out, "http.requests")
	assert.Contains(t, out, "fatal: processor not found")
	assert.Contains(t, out, "ok: p99 < 250")
}

func TestConsole_SkippedChecks(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false).PrintOutcome(ensure.Outcome{Skipped: true})
	assert.Contains(t, buf.String(), "Checks skipped ("+ensure.DisableEnv+" is set)")
}

func TestColorSchemes(t *testing.T) {
	plain := NoColorScheme()
	assert.Equal(t, "ok", plain.Success.Sprint("ok"))

	colored := DefaultColorScheme()
	assert.NotEqual(t, "ok", colored.Success.Sprint("ok"))
	assert.Contains(t, colored.Success.Sprint("ok"), "ok")
}

func TestFileReport_RoundTripAndMerge(t *testing.T) {
	result := &engine.Result{
		RunID:        "run-1",
		StartTime:    t0,
		Aggregate:    sampleReport(10),
		Intermediate: []*metrics.Report{sampleReport(4), sampleReport(6)},
		Outcome: ensure.Outcome{Results: []ensure.Result{
			{Expression: "p99 < 5", Passed: false, Strict: true, Actual: 9.9},
		}},
	}
	fr := NewFileReport(result)
	require.NotNil(t, fr.Legacy)
	assert.Equal(t, int64(10), fr.Legacy.Codes[200])
	require.Len(t, fr.Checks, 1)
	assert.False(t, fr.Checks[0].Passed)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, WriteFileReport(a, fr))

	other := NewFileReport(&engine.Result{
		RunID:        "run-2",
		Aggregate:    sampleReport(5),
		Intermediate: []*metrics.Report{sampleReport(5)},
	})
	require.NoError(t, WriteFileReport(b, other))

	ra, err := ReadFileReport(a)
	require.NoError(t, err)
	assert.Equal(t, "run-1", ra.RunID)
	assert.Equal(t, int64(10), ra.Aggregate.Counter(metrics.HTTPRequests))
	require.Len(t, ra.Intermediate, 2)

	rb, err := ReadFileReport(b)
	require.NoError(t, err)

	merged := MergeFileReports(ra, rb)
	assert.Empty(t, merged.RunID)
	assert.Equal(t, int64(15), merged.Aggregate.Counter(metrics.HTTPRequests))
	assert.Equal(t, int64(15), merged.Legacy.ScenariosCreated)
	require.Len(t, merged.Intermediate, 2)
	assert.Equal(t, int64(9), merged.Intermediate[0].Counter(metrics.HTTPRequests))
	assert.Equal(t, int64(6), merged.Intermediate[1].Counter(metrics.HTTPRequests))
	assert.Empty(t, merged.Checks)

	sum, ok := merged.Aggregate.Summary(metrics.HTTPResponseTime)
	require.True(t, ok)
	assert.Equal(t, int64(15), sum.Count)
	assert.InDelta(t, 10, sum.Max, 0.01)
}

func TestReadFileReport_Errors(t *testing.T) {
	_, err := ReadFileReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
