// Package rate provides the arrival accounting used by the phase scheduler.
package rate

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Wake interval bounds for the scheduler loop.
const (
	MinWake = time.Millisecond
	MaxWake = time.Second
)

// epsilon absorbs float error so that an integral of exactly N yields N.
const epsilon = 1e-9

// Accumulator converts expected (fractional) arrivals into whole launches.
//
// # Algorithm
//
// Each call to Add receives the exact integral of the arrival-rate function
// over the elapsed interval. The integer part is returned as the number of
// VUs to launch and the fractional remainder is carried into the next call.
// Carry survives phase boundaries, so the total launched over a run equals
// floor(sum of integrals) regardless of how the timeline is sliced.
//
// # Thread Safety
//
// Accumulator is safe for concurrent use from multiple goroutines.
//
// # Example
//
//	acc := NewAccumulator()
//	p := Constant(10, 2*time.Second)
//	n := acc.Add(p.Integral(0, 500*time.Millisecond)) // 5
type Accumulator struct {
	carry    float64
	expected float64
	mu       sync.Mutex

	launched atomic.Int64
}

// NewAccumulator creates an accumulator with zero carry.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add records expected arrivals and returns how many to launch now.
// Negative input is treated as zero.
func (a *Accumulator) Add(expected float64) int {
	if expected < 0 || math.IsNaN(expected) {
		expected = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.expected += expected
	total := a.carry + expected
	n := math.Floor(total + epsilon)
	a.carry = total - n
	if a.carry < 0 {
		a.carry = 0
	}

	a.launched.Add(int64(n))
	return int(n)
}

// Carry returns the fractional arrival carried into the next interval.
func (a *Accumulator) Carry() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.carry
}

// Expected returns the sum of every integral passed to Add.
func (a *Accumulator) Expected() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expected
}

// Launched returns the total count returned by Add.
func (a *Accumulator) Launched() int64 {
	return a.launched.Load()
}

// NextWake returns how long until the carry reaches one arrival at the
// given rate, clamped to [MinWake, MaxWake]. A non-positive rate yields
// MaxWake.
func (a *Accumulator) NextWake(rate float64) time.Duration {
	if rate <= 0 {
		return MaxWake
	}
	need := 1 - a.Carry()
	return ClampWake(time.Duration(need / rate * float64(time.Second)))
}

// ClampWake bounds d to [MinWake, MaxWake].
func ClampWake(d time.Duration) time.Duration {
	if d < MinWake {
		return MinWake
	}
	if d > MaxWake {
		return MaxWake
	}
	return d
}
