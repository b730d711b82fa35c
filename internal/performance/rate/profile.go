package rate

import "time"

// Profile is a linear arrival-rate function r(t) = From + (To-From)*t/Duration
// over [0, Duration]. A constant rate has From == To.
type Profile struct {
	From     float64
	To       float64
	Duration time.Duration
}

// Constant returns a profile with a fixed rate.
func Constant(rate float64, d time.Duration) Profile {
	return Profile{From: rate, To: rate, Duration: d}
}

// Linear returns a profile ramping from one rate to another.
func Linear(from, to float64, d time.Duration) Profile {
	return Profile{From: from, To: to, Duration: d}
}

// RateAt returns the instantaneous rate at offset t, clamped to the profile bounds.
func (p Profile) RateAt(t time.Duration) float64 {
	if p.Duration <= 0 {
		return 0
	}
	t = p.clamp(t)
	return p.From + (p.To-p.From)*t.Seconds()/p.Duration.Seconds()
}

// Integral returns the exact number of expected arrivals in [t0, t1].
//
//	∫ r(t) dt = From*(t1-t0) + (To-From)/(2D) * (t1² - t0²)
func (p Profile) Integral(t0, t1 time.Duration) float64 {
	if p.Duration <= 0 {
		return 0
	}
	t0, t1 = p.clamp(t0), p.clamp(t1)
	if t1 <= t0 {
		return 0
	}
	a, b := t0.Seconds(), t1.Seconds()
	slope := (p.To - p.From) / p.Duration.Seconds()
	v := p.From*(b-a) + slope/2*(b*b-a*a)
	if v < 0 {
		return 0
	}
	return v
}

// Total returns the integral over the whole profile.
func (p Profile) Total() float64 {
	return p.Integral(0, p.Duration)
}

func (p Profile) clamp(t time.Duration) time.Duration {
	if t < 0 {
		return 0
	}
	if t > p.Duration {
		return p.Duration
	}
	return t
}
