package config

import (
	"fmt"
	"time"
)

// PhaseKind identifies the arrival profile of a phase.
type PhaseKind string

const (
	PhaseArrivalRate PhaseKind = "arrival-rate"
	PhaseRamp        PhaseKind = "ramp"
	PhaseFixedCount  PhaseKind = "fixed-count"
	PhasePause       PhaseKind = "pause"
)

// Phase is one contiguous segment of the load timeline.
// The concrete types are ArrivalRate, Ramp, FixedCount and Pause.
type Phase interface {
	Kind() PhaseKind
	Meta() PhaseMeta
}

// PhaseMeta holds the fields shared by all phase kinds.
type PhaseMeta struct {
	Name     string
	Duration time.Duration
	// MaxVusers overrides the script-level cap for this phase (0 = inherit)
	MaxVusers int
}

// Meta returns the shared phase fields.
func (m PhaseMeta) Meta() PhaseMeta { return m }

// ArrivalRate launches Rate VUs per second for Duration.
type ArrivalRate struct {
	PhaseMeta
	Rate float64
}

// Kind implements Phase.
func (ArrivalRate) Kind() PhaseKind { return PhaseArrivalRate }

// Ramp interpolates the arrival rate linearly from From to To over Duration.
type Ramp struct {
	PhaseMeta
	From float64
	To   float64
}

// Kind implements Phase.
func (Ramp) Kind() PhaseKind { return PhaseRamp }

// FixedCount launches Count VUs spread evenly over Duration.
type FixedCount struct {
	PhaseMeta
	Count int
}

// Kind implements Phase.
func (FixedCount) Kind() PhaseKind { return PhaseFixedCount }

// Pause advances the clock with no arrivals.
type Pause struct {
	PhaseMeta
}

// Kind implements Phase.
func (Pause) Kind() PhaseKind { return PhasePause }

// ExpectedArrivals returns the integral of the arrival-rate function over
// the whole phase.
func ExpectedArrivals(p Phase) float64 {
	secs := p.Meta().Duration.Seconds()
	switch ph := p.(type) {
	case ArrivalRate:
		return ph.Rate * secs
	case Ramp:
		return (ph.From + ph.To) / 2 * secs
	case FixedCount:
		if secs <= 0 {
			return 0
		}
		return float64(ph.Count)
	}
	return 0
}

// TotalDuration returns the sum of phase durations.
func TotalDuration(phases []Phase) time.Duration {
	var total time.Duration
	for _, p := range phases {
		total += p.Meta().Duration
	}
	return total
}

// BuildPhase converts an on-disk phase into its typed form.
func BuildPhase(index int, pc PhaseConfig) (Phase, error) {
	meta := PhaseMeta{Name: pc.Name}
	if meta.Name == "" {
		meta.Name = fmt.Sprintf("phase %d", index)
	}
	if pc.MaxVusers != nil {
		meta.MaxVusers = pc.MaxVusers.Int()
	}
	if pc.Duration != nil {
		meta.Duration = pc.Duration.Std()
	}

	switch {
	case pc.Pause != nil:
		meta.Duration = pc.Pause.Std()
		return Pause{PhaseMeta: meta}, nil
	case pc.ArrivalCount != nil:
		return FixedCount{PhaseMeta: meta, Count: pc.ArrivalCount.Int()}, nil
	case pc.ArrivalRate != nil && pc.RampTo != nil:
		return Ramp{PhaseMeta: meta, From: pc.ArrivalRate.Float(), To: pc.RampTo.Float()}, nil
	case pc.ArrivalRate != nil:
		return ArrivalRate{PhaseMeta: meta, Rate: pc.ArrivalRate.Float()}, nil
	}
	return nil, fmt.Errorf("phase %d: one of arrivalRate, arrivalCount or pause is required", index)
}

// BuildPhases converts every on-disk phase into its typed form.
func BuildPhases(pcs []PhaseConfig) ([]Phase, error) {
	phases := make([]Phase, 0, len(pcs))
	for i, pc := range pcs {
		p, err := BuildPhase(i, pc)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, nil
}
