package perf

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/engine"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/output"
	"github.com/wesleyorama2/barrage/internal/performance/plugins"
)

// Types shared with the engine.
type (
	// Script is a parsed and validated test script.
	Script = config.TestScript
	// Result contains the complete run results.
	Result = engine.Result
	// Report is a cumulative or intermediate metrics report.
	Report = metrics.Report
	// Processor registers a named set of hook and function handlers.
	Processor = plugins.Processor
	// Registry holds the handlers of a run.
	Registry = performance.Registry
	// Hook is a handler; it must call HookCall.Done exactly once.
	Hook = performance.Hook
	// HookCall is the argument passed to a Hook.
	HookCall = performance.HookCall
)

// LoadScript loads and validates a script file (.yaml, .yml or .json).
func LoadScript(path string) (*Script, error) {
	return config.LoadScript(path)
}

// ParseScript parses script data. name only selects the format by its
// extension and defaults to YAML.
func ParseScript(data []byte, name string) (*Script, error) {
	return config.ParseScript(data, name)
}

// Option configures a Runner.
type Option func(*engine.Options)

// WithWorkers sets the number of local workers sharing the arrivals.
func WithWorkers(n int) Option {
	return func(o *engine.Options) { o.Workers = n }
}

// WithGrace overrides the script's grace period.
func WithGrace(d time.Duration) Option {
	return func(o *engine.Options) { o.Grace = d }
}

// WithSeed makes scenario selection deterministic.
func WithSeed(seed int64) Option {
	return func(o *engine.Options) { o.Seed = seed }
}

// WithProcessor makes a processor available to scripts under name.
func WithProcessor(name string, p Processor) Option {
	return func(o *engine.Options) {
		if o.Processors == nil {
			o.Processors = make(map[string]Processor)
		}
		o.Processors[name] = p
	}
}

// WithLogger sets the structured logger. The default discards logs.
func WithLogger(logger *zap.Logger) Option {
	return func(o *engine.Options) { o.Logger = logger }
}

// WithOutput sets where plugins print, such as the apdex summary.
func WithOutput(w io.Writer) Option {
	return func(o *engine.Options) { o.Out = w }
}

// WithIntervalHandler receives every intermediate report.
func WithIntervalHandler(fn func(*Report)) Option {
	return func(o *engine.Options) { o.OnInterval = fn }
}

// Runner runs a script programmatically.
//
//	script, _ := perf.LoadScript("test.yaml")
//	result, _ := perf.NewRunner(script, perf.WithWorkers(2)).Run(ctx)
//	os.Exit(result.Outcome.ExitCode())
type Runner struct {
	script *Script
	opts   engine.Options
}

// NewRunner creates a runner for script.
func NewRunner(script *Script, options ...Option) *Runner {
	opts := engine.Options{Out: io.Discard}
	for _, option := range options {
		option(&opts)
	}
	return &Runner{script: script, opts: opts}
}

// Run executes the script. See engine.Engine.Run for the error contract:
// a setup failure still returns a result whose outcome carries it.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	eng, err := engine.New(r.script, r.opts)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// RunTest is shorthand for NewRunner(script, options...).Run(ctx).
func RunTest(ctx context.Context, script *Script, options ...Option) (*Result, error) {
	return NewRunner(script, options...).Run(ctx)
}

// WriteReport writes the JSON report of result, as run -o does.
func WriteReport(path string, result *Result) error {
	return output.WriteFileReport(path, output.NewFileReport(result))
}
