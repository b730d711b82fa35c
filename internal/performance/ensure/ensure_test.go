package ensure

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

func num(v float64) *config.Number {
	n := config.Number(v)
	return &n
}

func sampleReport() *metrics.Report {
	start := time.Unix(1700000000, 0)
	r := metrics.NewReport(start)
	r.PeriodEnd = start.Add(10 * time.Second)
	r.AddCounter(metrics.VUsersCreated, 20)
	r.AddCounter(metrics.VUsersCompleted, 19)
	r.AddCounter(metrics.VUsersFailed, 1)
	r.AddCounter(metrics.HTTPCodesPrefix+"200", 19)
	r.AddRate(metrics.HTTPRequestRate, 50)
	for i := 1; i <= 100; i++ {
		r.Observe(metrics.HTTPResponseTime, float64(i))
	}
	return r
}

func TestEvaluateCheck(t *testing.T) {
	r := sampleReport()

	tests := []struct {
		expr   string
		passed bool
		actual float64
		err    bool
	}{
		{expr: "http.codes.200 == 19", passed: true, actual: 19},
		{expr: "vusers.failed == 0", passed: false, actual: 1},
		{expr: "vusers.skipped == 0", passed: true, actual: 0},
		{expr: "http.request_rate >= 5", passed: true, actual: 5},
		{expr: "http.response_time.max <= 101", passed: true, actual: 100},
		{expr: "p99 < 50", passed: false, actual: 99},
		{expr: "median < 60", passed: true, actual: 50},
		{expr: "errorRate <= 5", passed: true, actual: 5},
		{expr: "errorRate < 5", passed: false, actual: 5},
		{expr: "custom.latency.p95 < 10", err: true},
		{expr: "vusers.failed = 0", err: true},
		{expr: "vusers.failed == zero", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res := EvaluateCheck(Check{Expression: tt.expr, Strict: true}, r)
			if tt.err {
				assert.Error(t, res.Err)
				assert.False(t, res.Passed)
				return
			}
			require.NoError(t, res.Err)
			assert.Equal(t, tt.passed, res.Passed)
			assert.InDelta(t, tt.actual, res.Actual, tt.actual*metrics.RelativeError+1e-9)
		})
	}
}

func TestEvaluateCheck_MissingHistogram(t *testing.T) {
	res := EvaluateCheck(Check{Expression: "p95 < 10"}, metrics.NewReport(time.Now()))
	assert.ErrorIs(t, res.Err, ErrNoData)
}

func TestChecks(t *testing.T) {
	strictFalse := false
	cfg := &config.EnsureConfig{
		Thresholds: []map[string]config.Number{{"http.response_time.p99": 250}},
		Conditions: []config.ConditionConfig{
			{Expression: "vusers.failed == 0"},
			{Expression: "http.request_rate > 1", Strict: &strictFalse},
		},
		P95:          num(200),
		Max:          num(1000.5),
		MaxErrorRate: num(1),
	}

	assert.Equal(t, []Check{
		{Expression: "http.response_time.p99 < 250", Strict: true},
		{Expression: "vusers.failed == 0", Strict: true},
		{Expression: "http.request_rate > 1", Strict: false},
		{Expression: "p95 < 200", Strict: true},
		{Expression: "max < 1000.5", Strict: true},
		{Expression: "errorRate <= 1", Strict: true},
	}, Checks(cfg))

	assert.Nil(t, Checks(nil))
}

func TestChecks_ThresholdKeysAreSorted(t *testing.T) {
	cfg := &config.EnsureConfig{
		Thresholds: []map[string]config.Number{
			{"http.response_time.p99": 250, "http.response_time.max": 900, "http.response_time.p50": 80},
			{"vusers.session_length.p95": 3000},
		},
	}

	want := []Check{
		{Expression: "http.response_time.max < 900", Strict: true},
		{Expression: "http.response_time.p50 < 80", Strict: true},
		{Expression: "http.response_time.p99 < 250", Strict: true},
		{Expression: "vusers.session_length.p95 < 3000", Strict: true},
	}
	for range 20 {
		assert.Equal(t, want, Checks(cfg))
	}
}

func TestEvaluate_AllChecksRun(t *testing.T) {
	strictFalse := false
	cfg := &config.EnsureConfig{
		Conditions: []config.ConditionConfig{
			{Expression: "vusers.failed == 0"},
			{Expression: "vusers.completed > 100", Strict: &strictFalse},
			{Expression: "http.codes.200 > 0"},
		},
	}

	results := Evaluate(cfg, sampleReport())
	require.Len(t, results, 3)
	assert.False(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed)

	o := Outcome{Results: results}
	assert.Len(t, o.Failed(), 1, "non-strict failures do not count")
	assert.Equal(t, ExitThresholds, o.ExitCode())
}

func TestOutcome_ExitCode(t *testing.T) {
	pass := []Result{{Expression: "a < 1", Passed: true, Strict: true}}
	fail := []Result{{Expression: "a < 1", Passed: false, Strict: true}}
	soft := []Result{{Expression: "a < 1", Passed: false, Strict: false}}

	tests := []struct {
		name    string
		outcome Outcome
		want    int
	}{
		{"clean", Outcome{Results: pass}, ExitOK},
		{"threshold", Outcome{Results: fail}, ExitThresholds},
		{"non-strict only", Outcome{Results: soft}, ExitOK},
		{"assertions", Outcome{Results: pass, AssertionFailures: 3}, ExitAssertions},
		{"threshold beats assertions", Outcome{Results: fail, AssertionFailures: 3}, ExitThresholds},
		{"fatal beats everything", Outcome{Results: fail, AssertionFailures: 3, Fatal: errors.New("boom")}, ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.ExitCode())
		})
	}
}

func TestNewOutcome_Disabled(t *testing.T) {
	cfg := &config.EnsureConfig{Conditions: []config.ConditionConfig{{Expression: "vusers.failed == 0"}}}

	o := NewOutcome(cfg, sampleReport(), 0, nil)
	assert.Equal(t, ExitThresholds, o.ExitCode())

	t.Setenv(DisableEnv, "1")
	o = NewOutcome(cfg, sampleReport(), 2, nil)
	assert.True(t, o.Skipped)
	assert.Empty(t, o.Results)
	assert.Equal(t, ExitAssertions, o.ExitCode())
}

func TestDisabled(t *testing.T) {
	os.Unsetenv(DisableEnv)
	assert.False(t, Disabled())
	t.Setenv(DisableEnv, "")
	assert.True(t, Disabled())
}
