// Package events carries metric events from virtual users to the aggregator.
package events

import "time"

// Kind is the type of a metric event.
type Kind uint8

const (
	// Counter adds Value to a running total.
	Counter Kind = iota
	// Rate counts one occurrence; the aggregator derives per-second rates.
	Rate
	// Histogram records Value into a distribution.
	Histogram
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Rate:
		return "rate"
	case Histogram:
		return "histogram"
	}
	return "unknown"
}

// ParseKind converts a name into a Kind. Empty means Counter.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "counter":
		return Counter, true
	case "rate":
		return Rate, true
	case "histogram":
		return Histogram, true
	}
	return Counter, false
}

// Event is an immutable metric observation.
type Event struct {
	Kind  Kind
	Name  string
	Value float64
	Time  time.Time
}

// Emitter accepts metric events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// EmitCounter emits a counter increment.
func EmitCounter(e Emitter, name string, value int64) {
	e.Emit(Event{Kind: Counter, Name: name, Value: float64(value), Time: time.Now()})
}

// EmitRate emits one occurrence of a rate metric.
func EmitRate(e Emitter, name string) {
	e.Emit(Event{Kind: Rate, Name: name, Value: 1, Time: time.Now()})
}

// EmitHistogram emits a histogram observation.
func EmitHistogram(e Emitter, name string, value float64) {
	e.Emit(Event{Kind: Histogram, Name: name, Value: value, Time: time.Now()})
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})
