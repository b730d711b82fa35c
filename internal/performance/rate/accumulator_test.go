package rate

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

func TestAccumulator_Add_CarriesFraction(t *testing.T) {
	acc := NewAccumulator()

	steps := []struct {
		in   float64
		want int
	}{
		{0.4, 0},
		{0.4, 0},
		{0.4, 1},
		{2.5, 2},
		{0.1, 1},
	}
	for i, s := range steps {
		if got := acc.Add(s.in); got != s.want {
			t.Errorf("step %d: Add(%v) = %d, want %d (carry %v)", i, s.in, got, s.want, acc.Carry())
		}
	}
	if acc.Launched() != 4 {
		t.Errorf("Launched() = %d, want 4", acc.Launched())
	}
	if math.Abs(acc.Expected()-3.8) > 1e-9 {
		t.Errorf("Expected() = %v, want 3.8", acc.Expected())
	}
}

func TestAccumulator_TotalIsFloorOfSum(t *testing.T) {
	tests := []struct {
		name     string
		profile  Profile
		interval time.Duration
		want     int64
	}{
		{"10/s for 2s in 1ms ticks", Constant(10, 2*time.Second), time.Millisecond, 20},
		{"10/s for 2s in 7ms ticks", Constant(10, 2*time.Second), 7 * time.Millisecond, 20},
		{"3/s for 1s in 333ms ticks", Constant(3, time.Second), 333 * time.Millisecond, 3},
		{"0.5/s for 3s", Constant(0.5, 3*time.Second), 100 * time.Millisecond, 1},
		{"ramp 0->10 over 10s", Linear(0, 10, 10*time.Second), 13 * time.Millisecond, 50},
		{"ramp 10->0 over 4s", Linear(10, 0, 4*time.Second), 250 * time.Millisecond, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			var total int64
			for t0 := time.Duration(0); t0 < tt.profile.Duration; t0 += tt.interval {
				total += int64(acc.Add(tt.profile.Integral(t0, t0+tt.interval)))
			}
			if total != tt.want {
				t.Errorf("total = %d, want %d", total, tt.want)
			}
		})
	}
}

func TestAccumulator_CarryAcrossProfiles(t *testing.T) {
	acc := NewAccumulator()
	// 0.5 + 0.5 arrivals from two phases add up to one.
	n := acc.Add(Constant(1, 500*time.Millisecond).Total())
	n += acc.Add(Constant(0.25, 2*time.Second).Total())
	if n != 1 {
		t.Errorf("launched = %d, want 1", n)
	}
}

func TestAccumulator_IgnoresNegative(t *testing.T) {
	acc := NewAccumulator()
	if got := acc.Add(-5); got != 0 {
		t.Errorf("Add(-5) = %d, want 0", got)
	}
	if got := acc.Add(math.NaN()); got != 0 {
		t.Errorf("Add(NaN) = %d, want 0", got)
	}
}

func TestAccumulator_NextWake(t *testing.T) {
	tests := []struct {
		name  string
		carry float64
		rate  float64
		want  time.Duration
	}{
		{"empty carry at 10/s", 0, 10, 100 * time.Millisecond},
		{"half carry at 10/s", 0.5, 10, 50 * time.Millisecond},
		{"slow rate clamps to 1s", 0, 0.1, MaxWake},
		{"fast rate clamps to 1ms", 0, 1e6, MinWake},
		{"zero rate", 0, 0, MaxWake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			acc.Add(tt.carry)
			got := acc.NextWake(tt.rate)
			if diff := got - tt.want; diff > time.Microsecond || diff < -time.Microsecond {
				t.Errorf("NextWake(%v) = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestAccumulator_Concurrent(t *testing.T) {
	acc := NewAccumulator()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				acc.Add(0.25)
			}
		}()
	}
	wg.Wait()

	if acc.Launched() != 250 {
		t.Errorf("Launched() = %d, want 250", acc.Launched())
	}
}

func TestProfile_Integral(t *testing.T) {
	p := Linear(2, 6, 4*time.Second)

	if got := p.RateAt(2 * time.Second); got != 4 {
		t.Errorf("RateAt(2s) = %v, want 4", got)
	}
	if got := p.RateAt(10 * time.Second); got != 6 {
		t.Errorf("RateAt past end = %v, want 6", got)
	}
	if got := p.Total(); math.Abs(got-16) > 1e-9 {
		t.Errorf("Total() = %v, want 16", got)
	}
	// First second: 2 + 0.5 = 2.5 arrivals.
	if got := p.Integral(0, time.Second); math.Abs(got-2.5) > 1e-9 {
		t.Errorf("Integral(0,1s) = %v, want 2.5", got)
	}
	if got := p.Integral(3*time.Second, time.Second); got != 0 {
		t.Errorf("reversed interval = %v, want 0", got)
	}
	if got := Constant(5, 0).Total(); got != 0 {
		t.Errorf("zero-duration Total() = %v, want 0", got)
	}
}

func TestProfile_RampIsMonotonic(t *testing.T) {
	up := Linear(1, 20, 10*time.Second)
	prev := -1.0
	for ts := time.Duration(0); ts <= up.Duration; ts += 250 * time.Millisecond {
		r := up.RateAt(ts)
		if r < prev {
			t.Fatalf("rate decreased at %v: %v < %v", ts, r, prev)
		}
		prev = r
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	var seen []time.Time
	c.OnSleep = func(now time.Time) { seen = append(seen, now) }

	if err := c.Sleep(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Minute)

	if got := c.Now().Sub(start); got != 61*time.Second {
		t.Errorf("elapsed = %v, want 61s", got)
	}
	if c.Sleeps() != 1 || len(seen) != 1 {
		t.Errorf("sleeps = %d, hooks = %d", c.Sleeps(), len(seen))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, time.Second); err == nil {
		t.Error("Sleep on cancelled context should fail")
	}
}

func TestRealClock_SleepCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := RealClock{}.Sleep(ctx, time.Minute)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Sleep did not return promptly")
	}
}

func BenchmarkAccumulator_Add(b *testing.B) {
	acc := NewAccumulator()
	p := Constant(1000, time.Hour)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		t0 := time.Duration(i%3600) * time.Second
		acc.Add(p.Integral(t0, t0+time.Millisecond))
	}
}
