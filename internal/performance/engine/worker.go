package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/scheduler"
)

// cancelWait bounds how long a worker waits for VUs to return after they
// were cancelled. VUs still running afterwards are counted as abandoned.
var cancelWait = 5 * time.Second

// worker is one local engine: a scheduler shard whose VUs emit into a
// private channel drained by a private aggregator.
type worker struct {
	index  int
	ch     *events.Channel
	runner *performance.Runner
	agg    *metrics.Aggregator
	sched  *scheduler.Scheduler
	logger *zap.Logger

	// VUs run under vuCtx so that stopping arrivals leaves them the grace period.
	vuCtx     context.Context
	cancelVUs context.CancelFunc

	result    scheduler.Result
	report    *metrics.Report
	abandoned int64
}

func (w *worker) launch(_ context.Context, a scheduler.Arrival, release func()) {
	go func() {
		defer release()
		_, _ = w.runner.Run(w.vuCtx, a.Seq)
	}()
}

// run drives the shard to the end, applies the grace policy and stops the
// aggregator once every VU has returned.
func (w *worker) run(ctx context.Context, grace time.Duration) error {
	w.vuCtx, w.cancelVUs = context.WithCancel(context.WithoutCancel(ctx))
	defer w.cancelVUs()
	w.agg.Start(context.WithoutCancel(ctx))

	res, err := w.sched.Run(ctx)
	w.result = res
	if err != nil {
		w.cancelVUs()
		w.waitCancelled()
		w.report = w.agg.Stop()
		return err
	}
	if res.Stopped {
		w.logger.Info("arrivals stopped", zap.Stringer("scheduler", res))
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	err = w.sched.Wait(graceCtx)
	cancel()
	if err != nil {
		w.abandoned = int64(w.sched.Active())
		w.logger.Warn("grace period expired, cancelling in-flight virtual users",
			zap.Duration("grace", grace),
			zap.Int64("active", w.abandoned),
		)
		w.cancelVUs()
		w.waitCancelled()
	}

	w.report = w.agg.Stop()
	if d := w.ch.Dropped(); d > 0 {
		w.logger.Warn("events emitted after close", zap.Int64("dropped", d))
	}
	return nil
}

// waitCancelled waits up to cancelWait for cancelled VUs to release their slots.
func (w *worker) waitCancelled() {
	ctx, cancel := context.WithTimeout(context.Background(), cancelWait)
	defer cancel()
	if err := w.sched.Wait(ctx); err != nil {
		stuck := int64(w.sched.Active())
		w.logger.Error("virtual users ignored cancellation",
			zap.Duration("wait", cancelWait),
			zap.Int64("stuck", stuck),
		)
		if stuck > w.abandoned {
			w.abandoned = stuck
		}
	}
}
