// Package ensure evaluates pass/fail conditions against the final report
// and maps the run outcome to a process exit code.
package ensure

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

// DisableEnv, when set, skips condition evaluation.
const DisableEnv = "BARRAGE_DISABLE_ENSURE"

// Exit codes.
const (
	ExitOK         = 0
	ExitThresholds = 1
	ExitAssertions = 6
	ExitFatal      = 11
)

// ErrorRatePath is the virtual metric behind maxErrorRate: the percentage
// of created VUs that failed.
const ErrorRatePath = "errorRate"

// ErrNoData is returned for a histogram statistic with no observations.
var ErrNoData = errors.New("no data for metric")

// shorthand stats resolve against http.response_time.
var shorthand = map[string]bool{
	"p50": true, "median": true, "p75": true, "p90": true, "p95": true,
	"p99": true, "p999": true, "min": true, "max": true, "mean": true,
}

// Disabled reports whether evaluation is switched off by the environment.
func Disabled() bool {
	_, ok := os.LookupEnv(DisableEnv)
	return ok
}

// Check is one condition to evaluate.
type Check struct {
	Expression string
	Strict     bool
}

// Result is the outcome of one check.
type Result struct {
	Expression string
	Passed     bool
	Actual     float64
	Strict     bool
	Err        error
}

// Checks collects every condition of cfg in declaration order: thresholds,
// then conditions, then the legacy shorthand keys.
func Checks(cfg *config.EnsureConfig) []Check {
	if cfg == nil {
		return nil
	}
	var out []Check
	for _, t := range cfg.Thresholds {
		// Keys of one entry are checked in name order.
		names := make([]string, 0, len(t))
		for metric := range t {
			names = append(names, metric)
		}
		sort.Strings(names)
		for _, metric := range names {
			out = append(out, Check{Expression: fmt.Sprintf("%s < %s", metric, formatNumber(t[metric])), Strict: true})
		}
	}
	for _, c := range cfg.Conditions {
		out = append(out, Check{Expression: c.Expression, Strict: c.IsStrict()})
	}

	legacy := []struct {
		name string
		v    *config.Number
	}{
		{"p50", cfg.P50}, {"median", cfg.Median}, {"p95", cfg.P95}, {"p99", cfg.P99}, {"max", cfg.Max},
	}
	for _, l := range legacy {
		if l.v != nil {
			out = append(out, Check{Expression: fmt.Sprintf("%s < %s", l.name, formatNumber(*l.v)), Strict: true})
		}
	}
	if cfg.MaxErrorRate != nil {
		out = append(out, Check{Expression: fmt.Sprintf("%s <= %s", ErrorRatePath, formatNumber(*cfg.MaxErrorRate)), Strict: true})
	}
	return out
}

// Evaluate runs every check against r. No check short-circuits another.
func Evaluate(cfg *config.EnsureConfig, r *metrics.Report) []Result {
	checks := Checks(cfg)
	out := make([]Result, 0, len(checks))
	for _, c := range checks {
		out = append(out, EvaluateCheck(c, r))
	}
	return out
}

// EvaluateCheck evaluates a single condition.
func EvaluateCheck(c Check, r *metrics.Report) Result {
	res := Result{Expression: c.Expression, Strict: c.Strict}

	path, op, raw, err := config.ParseCondition(c.Expression)
	if err != nil {
		res.Err = err
		return res
	}
	want, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		res.Err = fmt.Errorf("invalid value %q in %q", raw, c.Expression)
		return res
	}

	actual, err := Resolve(r, path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Actual = actual
	res.Passed = config.Compare(actual, op, want)
	return res
}

// Resolve returns the value of a metric path in r. Counters and rates that
// never fired read as zero; a histogram statistic with no data is ErrNoData.
func Resolve(r *metrics.Report, path string) (float64, error) {
	if path == ErrorRatePath {
		created := r.Counter(metrics.VUsersCreated)
		if created == 0 {
			return 0, nil
		}
		return float64(r.Counter(metrics.VUsersFailed)) / float64(created) * 100, nil
	}
	if shorthand[path] {
		path = metrics.HTTPResponseTime + "." + path
	}

	if v, ok := r.Lookup(path); ok {
		return v, nil
	}
	if i := strings.LastIndexByte(path, '.'); i > 0 && isStat(path[i+1:]) {
		return 0, fmt.Errorf("%w: %s", ErrNoData, path)
	}
	return 0, nil
}

func isStat(s string) bool {
	return shorthand[s] || s == "count" || s == "avg"
}

func formatNumber(n config.Number) string {
	return strconv.FormatFloat(n.Float(), 'f', -1, 64)
}

// Outcome summarises everything that decides the exit code of a run.
type Outcome struct {
	Results           []Result
	AssertionFailures int64
	Fatal             error
	// Skipped is set when evaluation was disabled
	Skipped bool
}

// NewOutcome evaluates cfg against r unless disabled by the environment.
func NewOutcome(cfg *config.EnsureConfig, r *metrics.Report, assertionFailures int64, fatal error) Outcome {
	o := Outcome{AssertionFailures: assertionFailures, Fatal: fatal}
	if Disabled() {
		o.Skipped = true
		return o
	}
	if r != nil {
		o.Results = Evaluate(cfg, r)
	}
	return o
}

// Failed returns the strict checks that did not pass.
func (o Outcome) Failed() []Result {
	var out []Result
	for _, r := range o.Results {
		if r.Strict && !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// ExitCode maps the outcome to a process exit code. A fatal error wins, then
// threshold failures, then per-VU assertion failures.
func (o Outcome) ExitCode() int {
	switch {
	case o.Fatal != nil:
		return ExitFatal
	case len(o.Failed()) > 0:
		return ExitThresholds
	case o.AssertionFailures > 0:
		return ExitAssertions
	}
	return ExitOK
}
