// Package scheduler turns a phase timeline into VU arrivals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/rate"
)

// pendingWake bounds the wake interval while deferred arrivals wait for capacity.
const pendingWake = 10 * time.Millisecond

// State represents the scheduler lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDrained
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDrained:
		return "drained"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Arrival is one VU launch decided by the scheduler.
type Arrival struct {
	// Seq is the position in the global arrival sequence shared by all shards.
	Seq int64
	// Phase is the index of the phase that produced the arrival.
	Phase     int
	PhaseName string
	// Due is when the arrival was generated; launch may be later if deferred.
	Due      time.Time
	Deferred bool
}

// Launcher starts a VU for an arrival. release must be called exactly once
// when the VU ends; it frees the concurrency slot.
type Launcher interface {
	Launch(ctx context.Context, a Arrival, release func())
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, a Arrival, release func())

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, a Arrival, release func()) { f(ctx, a, release) }

// Shard selects the arrivals a worker launches out of the global sequence.
type Shard struct {
	Index int
	Count int
}

// Owns reports whether the shard launches arrival seq.
func (s Shard) Owns(seq int64) bool {
	if s.Count <= 1 {
		return true
	}
	return seq%int64(s.Count) == int64(s.Index)
}

// Cap splits a fleet-wide VU cap across shards. The result is at least 1
// when total is positive; 0 means unbounded.
func (s Shard) Cap(total int) int {
	if total <= 0 || s.Count <= 1 {
		return total
	}
	c := total / s.Count
	if s.Index < total%s.Count {
		c++
	}
	if c == 0 {
		c = 1
	}
	return c
}

// PhaseEvent describes a phase transition.
type PhaseEvent struct {
	Index int
	Phase config.Phase
	// Launched is the number of VUs this shard launched during the phase.
	Launched int64
	// Pending is the number of deferred arrivals still waiting for capacity.
	Pending int
	Time    time.Time
}

// Config contains configuration for the scheduler.
type Config struct {
	Phases []config.Phase

	// MaxVusers is the script-level cap (0 = unbounded); a phase cap overrides it.
	MaxVusers int

	Shard  Shard
	Clock  rate.Clock
	Logger *zap.Logger

	OnPhaseStarted   func(PhaseEvent)
	OnPhaseCompleted func(PhaseEvent)
}

// Result summarises a scheduler run.
type Result struct {
	// Expected is the integral of the arrival-rate function over the run.
	Expected float64
	// Arrivals is the number of arrivals in the global sequence.
	Arrivals int64
	// Launched is the number of VUs launched by this shard.
	Launched int64
	// Deferred counts arrivals that waited for capacity.
	Deferred int64
	// Abandoned counts deferred arrivals dropped by a stop.
	Abandoned int64
	// MaxDrift is the longest delay between an arrival's due time and its launch.
	MaxDrift time.Duration
	Stopped  bool
}

// Scheduler runs the phase timeline and hands arrivals to a Launcher.
//
// A single goroutine drives the timeline. Arrivals that would exceed the
// effective VU cap are deferred and launched as capacity frees; the clock
// keeps ticking meanwhile.
type Scheduler struct {
	config   Config
	launcher Launcher
	logger   *zap.Logger

	acc   *rate.Accumulator
	slots *capacity

	state atomic.Int32
	phase atomic.Int32

	// Owned by the Run goroutine.
	seq        int64
	pending    []Arrival
	result     Result
	phaseCount int64
	limit      int
	warned     bool

	releaseWg sync.WaitGroup
}

// New creates a scheduler.
func New(cfg Config, launcher Launcher) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = rate.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Shard.Count <= 0 {
		cfg.Shard = Shard{Index: 0, Count: 1}
	}

	s := &Scheduler{
		config:   cfg,
		launcher: launcher,
		logger: cfg.Logger.With(
			zap.String("component", "scheduler"),
			zap.Int("shard", cfg.Shard.Index),
		),
		acc:   rate.NewAccumulator(),
		slots: newCapacity(),
	}
	s.phase.Store(-1)
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Phase returns the index of the running phase, or -1.
func (s *Scheduler) Phase() int {
	return int(s.phase.Load())
}

// Active returns the number of launched VUs not yet released.
func (s *Scheduler) Active() int {
	return s.slots.count()
}

// Run drives the timeline until every arrival is launched or ctx is done.
// Cancellation is not an error: the result has Stopped set and counts the
// abandoned arrivals.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result{}, ErrAlreadyStarted
	}

	for i, ph := range s.config.Phases {
		if ctx.Err() != nil {
			return s.stop(), nil
		}
		if err := s.runPhase(ctx, i, ph); err != nil {
			return s.stop(), nil
		}
	}

	if err := s.drainPending(ctx); err != nil {
		return s.stop(), nil
	}

	s.state.Store(int32(StateDrained))
	s.phase.Store(-1)
	s.result.Expected = s.acc.Expected()
	s.logger.Debug("timeline drained",
		zap.Int64("arrivals", s.result.Arrivals),
		zap.Int64("launched", s.result.Launched),
		zap.Int64("deferred", s.result.Deferred),
	)
	return s.result, nil
}

func (s *Scheduler) capFor(ph config.Phase) int {
	limit := s.config.MaxVusers
	if m := ph.Meta().MaxVusers; m > 0 {
		limit = m
	}
	return s.config.Shard.Cap(limit)
}

func profileFor(ph config.Phase) (rate.Profile, bool) {
	d := ph.Meta().Duration
	switch p := ph.(type) {
	case config.ArrivalRate:
		return rate.Constant(p.Rate, d), p.Rate > 0
	case config.Ramp:
		return rate.Linear(p.From, p.To, d), p.From > 0 || p.To > 0
	case config.FixedCount:
		if d <= 0 {
			return rate.Profile{}, false
		}
		return rate.Constant(float64(p.Count)/d.Seconds(), d), p.Count > 0
	}
	return rate.Profile{}, false
}

func (s *Scheduler) runPhase(ctx context.Context, index int, ph config.Phase) error {
	meta := ph.Meta()
	log := s.logger.With(zap.Int("phase", index), zap.String("name", meta.Name))

	if meta.Duration <= 0 {
		log.Debug("skipping zero-duration phase")
		return nil
	}

	// A zero-rate phase produces no arrivals but still takes its time.
	profile, hasArrivals := profileFor(ph)
	idle := ph.Kind() == config.PhasePause || !hasArrivals

	s.phase.Store(int32(index))
	s.limit = s.capFor(ph)
	s.phaseCount = 0
	s.warned = false
	start := s.config.Clock.Now()
	if s.config.OnPhaseStarted != nil {
		s.config.OnPhaseStarted(PhaseEvent{Index: index, Phase: ph, Time: start, Pending: len(s.pending)})
	}
	log.Info("phase started",
		zap.String("kind", string(ph.Kind())),
		zap.Duration("duration", meta.Duration),
		zap.Float64("expectedArrivals", config.ExpectedArrivals(ph)),
	)

	if idle {
		if err := s.pauseFor(ctx, meta.Duration); err != nil {
			return err
		}
	} else {
		var elapsed time.Duration
		for elapsed < meta.Duration {
			wake := s.acc.NextWake(profile.RateAt(elapsed))
			if len(s.pending) > 0 && wake > pendingWake {
				wake = pendingWake
			}
			if rest := meta.Duration - elapsed; wake > rest {
				wake = rest
			}
			if err := s.config.Clock.Sleep(ctx, wake); err != nil {
				return err
			}

			now := s.config.Clock.Now()
			t1 := now.Sub(start)
			if t1 > meta.Duration {
				t1 = meta.Duration
			}
			if t1 <= elapsed {
				// Clock did not advance; force progress so the loop terminates.
				t1 = elapsed + wake
				if t1 > meta.Duration {
					t1 = meta.Duration
				}
			}
			n := s.acc.Add(profile.Integral(elapsed, t1))
			elapsed = t1

			s.generate(index, meta.Name, n, now)
			s.launchPending(ctx, now)
		}
	}

	end := s.config.Clock.Now()
	if len(s.pending) > 0 {
		log.Warn("phase ended with deferred arrivals",
			zap.Int("pending", len(s.pending)),
			zap.Duration("drift", end.Sub(s.pending[0].Due)),
		)
	}
	if s.config.OnPhaseCompleted != nil {
		s.config.OnPhaseCompleted(PhaseEvent{
			Index: index, Phase: ph, Launched: s.phaseCount, Pending: len(s.pending), Time: end,
		})
	}
	log.Info("phase completed", zap.Int64("launched", s.phaseCount))
	return nil
}

// pauseFor advances the clock through a pause, still launching deferred arrivals.
func (s *Scheduler) pauseFor(ctx context.Context, d time.Duration) error {
	start := s.config.Clock.Now()
	for {
		elapsed := s.config.Clock.Now().Sub(start)
		if elapsed >= d {
			return nil
		}
		wake := d - elapsed
		if len(s.pending) > 0 && wake > pendingWake {
			wake = pendingWake
		}
		if err := s.config.Clock.Sleep(ctx, wake); err != nil {
			return err
		}
		s.launchPending(ctx, s.config.Clock.Now())
	}
}

// generate assigns sequence numbers to n new arrivals and queues the ones
// this shard owns.
func (s *Scheduler) generate(phase int, name string, n int, now time.Time) {
	for i := 0; i < n; i++ {
		seq := s.seq
		s.seq++
		s.result.Arrivals++
		if !s.config.Shard.Owns(seq) {
			continue
		}
		s.pending = append(s.pending, Arrival{Seq: seq, Phase: phase, PhaseName: name, Due: now})
	}
}

// launchPending launches queued arrivals while capacity allows and marks
// the rest deferred. It never blocks.
func (s *Scheduler) launchPending(ctx context.Context, now time.Time) {
	launched := 0
	for launched < len(s.pending) {
		if !s.slots.tryAcquire(s.limit) {
			break
		}
		s.launch(ctx, s.pending[launched], now)
		launched++
	}
	s.pending = s.pending[launched:]

	if len(s.pending) == 0 {
		return
	}
	for i := range s.pending {
		if !s.pending[i].Deferred {
			s.pending[i].Deferred = true
			s.result.Deferred++
		}
	}
	if !s.warned {
		s.warned = true
		s.logger.Warn("maxVusers reached, deferring arrivals",
			zap.Int("maxVusers", s.limit),
			zap.Int("active", s.slots.count()),
			zap.Int("pending", len(s.pending)),
			zap.Duration("drift", now.Sub(s.pending[0].Due)),
		)
	}
}

// drainPending launches the remaining deferred arrivals, waiting for
// capacity as VUs finish.
func (s *Scheduler) drainPending(ctx context.Context) error {
	for len(s.pending) > 0 {
		if s.slots.tryAcquire(s.limit) {
			s.launch(ctx, s.pending[0], s.config.Clock.Now())
			s.pending = s.pending[1:]
			continue
		}
		if err := s.slots.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) launch(ctx context.Context, a Arrival, now time.Time) {
	if drift := now.Sub(a.Due); drift > s.result.MaxDrift {
		s.result.MaxDrift = drift
	}
	s.result.Launched++
	s.phaseCount++

	var once sync.Once
	s.releaseWg.Add(1)
	s.launcher.Launch(ctx, a, func() {
		once.Do(func() {
			s.slots.release()
			s.releaseWg.Done()
		})
	})
}

// Wait blocks until every launched VU has released its slot or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.releaseWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) stop() Result {
	s.state.Store(int32(StateStopped))
	s.result.Stopped = true
	s.result.Abandoned = int64(len(s.pending))
	s.result.Expected = s.acc.Expected()
	if len(s.pending) > 0 {
		s.logger.Warn("stopped with deferred arrivals abandoned", zap.Int64("abandoned", s.result.Abandoned))
	}
	s.pending = nil
	return s.result
}

// String returns a one-line description for logs.
func (r Result) String() string {
	return fmt.Sprintf("arrivals=%d launched=%d deferred=%d abandoned=%d maxDrift=%s",
		r.Arrivals, r.Launched, r.Deferred, r.Abandoned, r.MaxDrift)
}
