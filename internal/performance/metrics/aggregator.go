package metrics

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/events"
)

// CoarsenedIntervals counts how often backpressure doubled the flush period.
const CoarsenedIntervals = "metrics.coarsened_intervals"

// AggregatorConfig contains configuration for the aggregator.
type AggregatorConfig struct {
	// Period is the flush interval (default: 10s)
	Period time.Duration

	// MaxPeriod caps the period after backpressure coarsening (default: 60s)
	MaxPeriod time.Duration

	// MaxIntervals is the number of interval reports retained (default: 3600)
	MaxIntervals int

	// Pressured reports queue pressure at flush time (default: channel high water check)
	Pressured func() bool

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	Logger *zap.Logger
}

// DefaultAggregatorConfig returns the default configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Period:       10 * time.Second,
		MaxPeriod:    60 * time.Second,
		MaxIntervals: 3600,
	}
}

// Aggregator is the single consumer of an event channel. It folds events
// into the active interval, flushes the interval every period and keeps
// the cumulative report.
//
// # Thread Safety
//
// Only the aggregator goroutine touches the active interval and the
// cumulative report. OnInterval must be called before Start.
type Aggregator struct {
	ch     *events.Channel
	config AggregatorConfig
	logger *zap.Logger

	subscribers []func(*Report)

	bucket     *Report
	cumulative *Report
	history    *History

	period    time.Duration
	pressured int
	maxBatch  int
	periodMu  sync.RWMutex

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewAggregator creates an aggregator reading from ch.
func NewAggregator(ch *events.Channel, config AggregatorConfig) *Aggregator {
	def := DefaultAggregatorConfig()
	if config.Period <= 0 {
		config.Period = def.Period
	}
	if config.MaxPeriod < config.Period {
		config.MaxPeriod = def.MaxPeriod
		if config.MaxPeriod < config.Period {
			config.MaxPeriod = config.Period
		}
	}
	if config.MaxIntervals <= 0 {
		config.MaxIntervals = def.MaxIntervals
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	a := &Aggregator{
		ch:      ch,
		config:  config,
		logger:  config.Logger.With(zap.String("component", "aggregator")),
		history: NewHistory(config.MaxIntervals),
		period:  config.Period,
		done:    make(chan struct{}),
	}
	if a.config.Pressured == nil {
		a.config.Pressured = func() bool {
			return ch.Pressured() || a.maxBatch > ch.HighWater()
		}
	}
	return a
}

// OnInterval registers a subscriber for interval reports.
func (a *Aggregator) OnInterval(fn func(*Report)) {
	a.subscribers = append(a.subscribers, fn)
}

// Start launches the consumer goroutine.
func (a *Aggregator) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		now := a.config.Now()
		a.bucket = NewReport(now)
		a.cumulative = NewReport(now)
		go a.run(ctx)
	})
}

// Stop closes the channel, waits until every queued event is folded in,
// flushes the last interval and returns the cumulative report.
func (a *Aggregator) Stop() *Report {
	a.stopOnce.Do(func() {
		a.ch.Close()
		a.Start(context.Background())
		<-a.done
		a.cancel()
	})
	return a.cumulative
}

// Period returns the current flush period.
func (a *Aggregator) Period() time.Duration {
	a.periodMu.RLock()
	defer a.periodMu.RUnlock()
	return a.period
}

// Intervals returns the retained interval reports, oldest first.
func (a *Aggregator) Intervals() []*Report {
	return a.history.All()
}

func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)

	timer := time.NewTimer(a.Period())
	defer timer.Stop()

	for {
		select {
		case <-a.ch.Ready():
			if a.consume() {
				a.flush()
				return
			}
		case <-timer.C:
			a.flush()
			a.adjustPeriod()
			timer.Reset(a.Period())
		case <-ctx.Done():
			a.consume()
			a.flush()
			return
		}
	}
}

// consume folds every queued event into the active interval and reports
// whether the channel is closed and drained.
func (a *Aggregator) consume() bool {
	for {
		batch, done := a.ch.Take()
		if len(batch) > a.maxBatch {
			a.maxBatch = len(batch)
		}
		for _, e := range batch {
			Apply(a.bucket, e)
		}
		if done {
			return true
		}
		if len(batch) == 0 {
			return false
		}
	}
}

// Apply folds one event into a report. Counter and rate values are rounded
// to the nearest integer.
func Apply(r *Report, e events.Event) {
	switch e.Kind {
	case events.Counter:
		r.AddCounter(e.Name, int64(math.Round(e.Value)))
	case events.Rate:
		n := int64(math.Round(e.Value))
		if n <= 0 {
			n = 1
		}
		r.AddRate(e.Name, n)
	case events.Histogram:
		r.Observe(e.Name, e.Value)
	}
	r.touch(e.Time)
}

func (a *Aggregator) flush() {
	now := a.config.Now()
	interval := a.bucket
	interval.PeriodEnd = now
	a.bucket = NewReport(now)

	if interval.Empty() {
		a.cumulative.PeriodEnd = now
		return
	}

	a.cumulative = Merge(a.cumulative, interval)
	a.history.Add(interval)
	for _, fn := range a.subscribers {
		fn(interval)
	}
}

// adjustPeriod doubles the period after two consecutive pressured flushes.
func (a *Aggregator) adjustPeriod() {
	pressured := a.config.Pressured()
	a.maxBatch = 0
	if !pressured {
		a.pressured = 0
		return
	}
	a.pressured++
	if a.pressured < 2 {
		return
	}
	a.pressured = 0

	a.periodMu.Lock()
	old := a.period
	if a.period < a.config.MaxPeriod {
		a.period *= 2
		if a.period > a.config.MaxPeriod {
			a.period = a.config.MaxPeriod
		}
	}
	next := a.period
	a.periodMu.Unlock()

	a.bucket.AddCounter(CoarsenedIntervals, 1)
	a.logger.Warn("event queue above high water, coarsening reporting interval",
		zap.Duration("from", old),
		zap.Duration("to", next),
		zap.Int("queue", a.ch.Len()),
		zap.Int("highWater", a.ch.HighWater()),
	)
}
