// Package output renders run progress and results for humans and writes
// the JSON report file.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/engine"
	"github.com/wesleyorama2/barrage/internal/performance/ensure"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/scheduler"
)

const (
	lineWidth = 80
	ruleChar  = "-"
)

// summaryStats are the histogram statistics printed per metric, in order.
var summaryStats = []string{"min", "max", "mean", "median", "p95", "p99"}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// Console prints the periodic and final report blocks.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu sync.Mutex
}

// NewConsole creates a console printer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	colors := NoColorScheme()
	if useColors {
		colors = DefaultColorScheme()
	}
	return &Console{writer: cfg.Writer, colors: colors, isTTY: isTTY, quiet: cfg.Quiet}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(runID string, script *config.TestScript, workers int) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var total time.Duration
	for _, ph := range script.Timeline {
		total += ph.Meta().Duration
	}
	c.writeln(c.colors.Title.Sprintf("Test run id: %s", runID))
	c.writeln(fmt.Sprintf("Phases: %d (%s)  Scenarios: %d  Workers: %d",
		len(script.Timeline), formatDuration(total), len(script.Scenarios), workers))
	c.writeln("")
}

// PrintPhase prints a phase start.
func (c *Console) PrintPhase(ev scheduler.PhaseEvent) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := ev.Phase.Meta()
	name := meta.Name
	if name == "" {
		name = fmt.Sprintf("phase %d", ev.Index)
	}
	c.writeln(fmt.Sprintf("Phase started: %s (index: %d, duration: %s) %s",
		c.colors.Title.Sprint(name), ev.Index, formatDuration(meta.Duration), formatClock(ev.Time)))
	c.writeln("")
}

// PrintInterval prints an intermediate report.
func (c *Console) PrintInterval(r *metrics.Report) {
	if c.quiet || r.Empty() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeRule(fmt.Sprintf("Metrics for period to: %s (width: %s)", formatClock(r.PeriodEnd), formatDuration(r.Window())))
	c.writeReport(r)
	c.writeln("")
}

// PrintSummary prints the final report and the condition results.
func (c *Console) PrintSummary(result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.quiet {
		c.writeln(fmt.Sprintf("All VUs finished. Total time: %s", formatDuration(result.Duration)))
		c.writeln("")
		c.writeRule(fmt.Sprintf("Summary report @ %s", formatClock(result.EndTime)))
		c.writeReport(result.Aggregate)
		c.writeln("")
		if result.Abandoned > 0 {
			c.writeln(c.colors.Warn.Sprintf("%s VUs cancelled after the grace period", formatNumber(result.Abandoned)))
			c.writeln("")
		}
	}
	c.writeOutcome(result.Outcome)
}

// PrintReport prints a stored report, as read back by the report command.
func (c *Console) PrintReport(title string, r *metrics.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeRule(title)
	c.writeReport(r)
	c.writeln("")
}

// PrintOutcome prints the condition results and the verdict.
func (c *Console) PrintOutcome(o ensure.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeOutcome(o)
}

func (c *Console) writeOutcome(o ensure.Outcome) {
	if o.Fatal != nil {
		c.writeln(c.colors.Error.Sprintf("fatal: %v", o.Fatal))
	}

	if o.Skipped {
		c.writeln(c.colors.Dim.Sprintf("Checks skipped (%s is set)", ensure.DisableEnv))
	} else if len(o.Results) > 0 {
		c.writeln(c.colors.Title.Sprint("Checks:"))
		for _, r := range o.Results {
			c.writeln(c.checkLine(r))
		}
		c.writeln("")
	}

	if o.AssertionFailures > 0 {
		c.writeln(c.colors.Warn.Sprintf("Expectation failures: %s", formatNumber(o.AssertionFailures)))
	}
}

func (c *Console) checkLine(r ensure.Result) string {
	switch {
	case r.Err != nil:
		return c.colors.Error.Sprintf("fail: %s (%v)", r.Expression, r.Err)
	case r.Passed:
		return c.colors.Success.Sprintf("ok: %s", r.Expression)
	case !r.Strict:
		return c.colors.Warn.Sprintf("fail: %s (actual: %s, non-strict)", r.Expression, formatFloat(r.Actual))
	}
	return c.colors.Error.Sprintf("fail: %s (actual: %s)", r.Expression, formatFloat(r.Actual))
}

// writeReport prints counters and rates by name, then histogram statistics.
func (c *Console) writeReport(r *metrics.Report) {
	values := make(map[string]string, len(r.Counters)+len(r.RateCounts))
	for name, v := range r.Counters {
		values[name] = fmt.Sprintf("%d", v)
	}
	for name, v := range r.Rates() {
		values[name] = formatFloat(v) + "/sec"
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.writeln(c.metricLine(name, values[name], 0))
	}

	for _, name := range r.HistogramNames() {
		sum, _ := r.Summary(name)
		c.writeln(c.colors.Name.Sprint(name + ":"))
		for _, stat := range summaryStats {
			v, _ := sum.Stat(stat)
			c.writeln(c.metricLine(stat, formatFloat(v), 2))
		}
	}
}

// metricLine renders "name: ....... value" padded to the line width.
func (c *Console) metricLine(name, value string, indent int) string {
	dots := lineWidth - indent - len(name) - len(value) - 3
	if dots < 3 {
		dots = 3
	}
	return fmt.Sprintf("%s%s %s %s",
		strings.Repeat(" ", indent),
		c.colors.Name.Sprint(name+":"),
		c.colors.Dim.Sprint(strings.Repeat(".", dots)),
		c.colors.Value.Sprint(value))
}

func (c *Console) writeRule(title string) {
	line := strings.Repeat(ruleChar, lineWidth)
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprint(title))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}
