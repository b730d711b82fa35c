// Package plugins holds the built-in plugins and processor sets that hook
// into the virtual user pipeline and the run lifecycle.
package plugins

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

// Plugin is a named extension loaded for one run.
type Plugin interface {
	Name() string
}

// IntervalObserver receives every intermediate report.
type IntervalObserver interface {
	OnInterval(r *metrics.Report)
}

// RunObserver receives the final aggregate report.
type RunObserver interface {
	AfterRun(r *metrics.Report) error
}

// Closer releases plugin resources at the end of the run.
type Closer interface {
	Close(ctx context.Context) error
}

// Options configure plugin loading.
type Options struct {
	// Out receives human-readable plugin output (default stdout)
	Out io.Writer
	// Processors adds processor sets to the built-in ones
	Processors map[string]Processor
}

// Load registers the script's processor and enabled plugins on run.
func Load(run *performance.RunContext, opts Options) ([]Plugin, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	cfg := run.Script.Config

	if err := LoadProcessor(run, cfg.Processor, opts.Processors); err != nil {
		return nil, err
	}

	var loaded []Plugin
	if cfg.Plugins.Expect != nil {
		loaded = append(loaded, NewExpect(run, *cfg.Plugins.Expect))
	}
	if cfg.Plugins.Apdex != nil {
		loaded = append(loaded, NewApdex(run, *cfg.Plugins.Apdex, opts.Out))
	}
	if cfg.Plugins.Prometheus != nil {
		p, err := NewPrometheus(*cfg.Plugins.Prometheus, run.Logger)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, p)
	}

	for _, p := range loaded {
		run.Logger.Debug("plugin loaded", zap.String("plugin", p.Name()))
	}
	return loaded, nil
}

// NotifyInterval forwards an intermediate report to every IntervalObserver.
func NotifyInterval(loaded []Plugin, r *metrics.Report) {
	for _, p := range loaded {
		if o, ok := p.(IntervalObserver); ok {
			o.OnInterval(r)
		}
	}
}

// NotifyAfterRun forwards the final report to every RunObserver and closes
// plugins that hold resources. The first error is returned.
func NotifyAfterRun(ctx context.Context, loaded []Plugin, r *metrics.Report) error {
	var first error
	for _, p := range loaded {
		if o, ok := p.(RunObserver); ok {
			if err := o.AfterRun(r); err != nil && first == nil {
				first = err
			}
		}
	}
	if err := Close(ctx, loaded); err != nil && first == nil {
		first = err
	}
	return first
}

// Close releases the resources of every Closer. The first error is returned.
func Close(ctx context.Context, loaded []Plugin) error {
	var first error
	for _, p := range loaded {
		if c, ok := p.(Closer); ok {
			if err := c.Close(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
