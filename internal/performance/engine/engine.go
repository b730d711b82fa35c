// Package engine provides the main orchestrator for a load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/ensure"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/internal/performance/httpengine"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/plugins"
	"github.com/wesleyorama2/barrage/internal/performance/rate"
	"github.com/wesleyorama2/barrage/internal/performance/scheduler"
)

// Options configure a run. The zero value runs one worker over HTTP.
type Options struct {
	// Workers is the number of local engines sharing the arrival sequence (default 1)
	Workers int

	// Grace overrides the script's gracePeriod when positive
	Grace time.Duration

	// Transport replaces the HTTP engine; the caller owns its lifecycle
	Transport performance.Transport

	// Processors adds processor sets to the built-in ones
	Processors map[string]plugins.Processor

	// Out receives plugin output (default stdout)
	Out io.Writer

	// Seed makes scenario selection deterministic when non-zero
	Seed int64

	// Clock drives the schedulers (default wall clock)
	Clock rate.Clock

	// OnInterval receives every intermediate report, merged across workers
	OnInterval func(*metrics.Report)

	// OnPhase receives phase starts of the first worker
	OnPhase func(scheduler.PhaseEvent)

	Logger *zap.Logger
}

// Result contains the complete run results.
type Result struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Aggregate is the cumulative report merged across workers
	Aggregate *metrics.Report
	// Intermediate are the interval reports, merged across workers by index
	Intermediate []*metrics.Report

	// Schedulers holds one scheduler result per worker
	Schedulers []scheduler.Result

	// Abandoned counts VUs cancelled when the grace period ran out
	Abandoned int64

	Outcome ensure.Outcome
}

// Engine is the main orchestrator for one run.
//
// It coordinates:
//   - Processor and plugin loading into the run context
//   - One scheduler, event channel and aggregator per worker
//   - The grace policy for in-flight virtual users
//   - Report merging, run observers and condition evaluation
//
// Example usage:
//
//	script, _ := config.LoadScript("test.yaml")
//	eng, _ := engine.New(script, engine.Options{Logger: logger})
//	result, _ := eng.Run(ctx)
//	os.Exit(result.Outcome.ExitCode())
type Engine struct {
	script *config.TestScript
	opts   Options
	run    *performance.RunContext
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	done    bool
}

// New creates an engine for script.
func New(script *config.TestScript, opts Options) (*Engine, error) {
	if script == nil {
		return nil, errors.New("script is required")
	}
	if len(script.Timeline) == 0 {
		return nil, errors.New("script has no phases")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = rate.RealClock{}
	}

	run := performance.NewRunContext(script, opts.Logger)
	return &Engine{
		script: script,
		opts:   opts,
		run:    run,
		logger: run.Logger.With(zap.String("component", "engine")),
	}, nil
}

// RunContext returns the context shared by every component of the run.
func (e *Engine) RunContext() *performance.RunContext {
	return e.run
}

// Run executes the timeline and returns the results. The result is never
// nil: a fatal setup error is returned alongside a result whose outcome
// carries it. Cancelling ctx stops arrivals; in-flight VUs get the grace
// period before they are cancelled.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running || e.done {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running, e.done = false, true
		e.mu.Unlock()
	}()

	start := time.Now()
	result := &Result{RunID: e.run.ID, StartTime: start}

	workers, loaded, cleanup, err := e.setup(ctx)
	if err != nil {
		e.run.SetFatal(err)
		e.logger.Error("run setup failed", zap.Error(err))
		result.EndTime = time.Now()
		result.Aggregate = metrics.NewReport(start)
		result.Outcome = ensure.Outcome{Fatal: err}
		return result, err
	}
	defer cleanup()

	merger := newIntervalMerger(len(workers), func(r *metrics.Report) {
		plugins.NotifyInterval(loaded, r)
		if e.opts.OnInterval != nil {
			e.opts.OnInterval(r)
		}
	})
	for i, w := range workers {
		w.agg.OnInterval(func(r *metrics.Report) { merger.add(i, r) })
	}

	e.logger.Info("run started",
		zap.Int("workers", len(workers)),
		zap.Int("phases", len(e.script.Timeline)),
		zap.Int("scenarios", len(e.script.Scenarios)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.run(gctx, e.grace()) })
	}
	runErr := g.Wait()
	merger.flush()

	reports := make([]*metrics.Report, 0, len(workers))
	intervals := make([][]*metrics.Report, 0, len(workers))
	for _, w := range workers {
		reports = append(reports, w.report)
		intervals = append(intervals, w.agg.Intervals())
		result.Schedulers = append(result.Schedulers, w.result)
		result.Abandoned += w.abandoned
	}
	result.Aggregate = metrics.MergeAll(reports...)
	result.Intermediate = metrics.MergeByIndex(intervals)

	if err := plugins.NotifyAfterRun(context.WithoutCancel(ctx), loaded, result.Aggregate); err != nil {
		e.logger.Warn("plugin after-run failed", zap.Error(err))
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	result.Outcome = ensure.NewOutcome(e.script.Config.Ensure, result.Aggregate, e.run.AssertionFailures(), e.run.Fatal())

	e.logger.Info("run finished",
		zap.Duration("duration", result.Duration),
		zap.Int64("vusers_created", result.Aggregate.Counter(metrics.VUsersCreated)),
		zap.Int64("vusers_failed", result.Aggregate.Counter(metrics.VUsersFailed)),
		zap.Int64("abandoned", result.Abandoned),
	)
	return result, runErr
}

func (e *Engine) grace() time.Duration {
	if e.opts.Grace > 0 {
		return e.opts.Grace
	}
	return e.script.Config.GracePeriod.GetDuration(config.DefaultGracePeriod)
}

// setup loads plugins, runs the before flow and builds every worker. Any
// error is fatal.
func (e *Engine) setup(ctx context.Context) ([]*worker, []plugins.Plugin, func(), error) {
	loaded, err := plugins.Load(e.run, plugins.Options{Out: e.opts.Out, Processors: e.opts.Processors})
	if err != nil {
		return nil, nil, nil, err
	}

	transport := e.opts.Transport
	var owned *httpengine.Transport
	if transport == nil {
		owned = httpengine.New(httpengine.FromSettings(e.script.Config.HTTP), e.run.Logger)
		transport = owned
	}
	cleanup := func() {
		if owned != nil {
			owned.Close()
		}
	}

	if e.script.Before != nil {
		if err := e.runBefore(ctx, transport); err != nil {
			cleanup()
			_ = plugins.Close(context.Background(), loaded)
			return nil, nil, nil, err
		}
	}

	period := e.script.Config.ReportingInterval.GetDuration(config.DefaultReportingInterval)
	workers := make([]*worker, e.opts.Workers)
	for i := range workers {
		w, err := e.newWorker(i, transport, period)
		if err != nil {
			cleanup()
			_ = plugins.Close(context.Background(), loaded)
			return nil, nil, nil, err
		}
		workers[i] = w
	}
	return workers, loaded, cleanup, nil
}

// runBefore runs the before flow once. Its metrics are not reported.
func (e *Engine) runBefore(ctx context.Context, transport performance.Transport) error {
	var opts []performance.RunnerOption
	if e.opts.Seed != 0 {
		opts = append(opts, performance.WithSeed(e.opts.Seed))
	}
	runner, err := performance.NewRunner(e.run, transport, events.Discard, opts...)
	if err != nil {
		return err
	}
	e.logger.Info("running before flow", zap.String("name", e.script.Before.Name))
	return runner.RunBefore(ctx)
}

func (e *Engine) newWorker(index int, transport performance.Transport, period time.Duration) (*worker, error) {
	logger := e.run.Logger.With(zap.Int("worker", index))
	ch := events.NewChannel(events.DefaultHighWater)

	var runnerOpts []performance.RunnerOption
	if e.opts.Seed != 0 {
		runnerOpts = append(runnerOpts, performance.WithSeed(e.opts.Seed+int64(index)))
	}
	runner, err := performance.NewRunner(e.run, transport, ch, runnerOpts...)
	if err != nil {
		return nil, err
	}

	w := &worker{
		index:  index,
		ch:     ch,
		runner: runner,
		logger: logger,
		agg: metrics.NewAggregator(ch, metrics.AggregatorConfig{
			Period: period,
			Logger: logger,
		}),
	}

	cfg := scheduler.Config{
		Phases:    e.script.Timeline,
		MaxVusers: e.script.Config.MaxVusers.Int(),
		Shard:     scheduler.Shard{Index: index, Count: e.opts.Workers},
		Clock:     e.opts.Clock,
		Logger:    logger,
		OnPhaseStarted: func(ev scheduler.PhaseEvent) {
			if index != 0 {
				return
			}
			logger.Info("phase started",
				zap.Int("index", ev.Index),
				zap.String("name", ev.Phase.Meta().Name),
				zap.Duration("duration", ev.Phase.Meta().Duration),
			)
			if e.opts.OnPhase != nil {
				e.opts.OnPhase(ev)
			}
		},
		OnPhaseCompleted: func(ev scheduler.PhaseEvent) {
			logger.Debug("phase completed",
				zap.Int("index", ev.Index),
				zap.Int64("launched", ev.Launched),
				zap.Int("pending", ev.Pending),
			)
		},
	}
	w.sched = scheduler.New(cfg, scheduler.LauncherFunc(w.launch))
	return w, nil
}
