// Package metrics aggregates metric events into interval and cumulative reports.
package metrics

import (
	"fmt"
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sketch configuration. Values are stored with 3 decimal places of
// resolution (scale 1000), so a millisecond histogram tracks down to 1µs
// and up to one hour. Three significant figures bound the relative error of
// any percentile to 0.1%.
const (
	sketchScale   = 1000
	sketchLowest  = 1
	sketchHighest = 3_600_000 * sketchScale
	sketchSigFigs = 3

	// RelativeError is the worst-case relative error of a percentile.
	RelativeError = 0.001
)

// Sketch is a mergeable quantile sketch backed by an HDR histogram.
// Insertion is O(1); percentiles are computed at read time.
//
// A Sketch is not safe for concurrent use; the aggregator owns it.
type Sketch struct {
	h *hdrhistogram.Histogram
}

// NewSketch creates an empty sketch.
func NewSketch() *Sketch {
	return &Sketch{h: hdrhistogram.New(sketchLowest, sketchHighest, sketchSigFigs)}
}

// Record adds a value. Negative values record as zero and values past the
// tracked range record as the maximum.
func (s *Sketch) Record(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	scaled := int64(math.Round(v * sketchScale))
	if scaled > sketchHighest {
		scaled = sketchHighest
	}
	// Values are clamped to the tracked range above.
	_ = s.h.RecordValue(scaled)
}

// Count returns the number of recorded values.
func (s *Sketch) Count() int64 {
	return s.h.TotalCount()
}

// Min returns the smallest recorded value.
func (s *Sketch) Min() float64 {
	if s.Count() == 0 {
		return 0
	}
	return float64(s.h.Min()) / sketchScale
}

// Max returns the largest recorded value.
func (s *Sketch) Max() float64 {
	if s.Count() == 0 {
		return 0
	}
	return float64(s.h.Max()) / sketchScale
}

// Mean returns the arithmetic mean of recorded values.
func (s *Sketch) Mean() float64 {
	if s.Count() == 0 {
		return 0
	}
	return s.h.Mean() / sketchScale
}

// Percentile returns the value at quantile q in [0, 100].
func (s *Sketch) Percentile(q float64) float64 {
	if s.Count() == 0 {
		return 0
	}
	return float64(s.h.ValueAtQuantile(q)) / sketchScale
}

// Merge adds every value of other into s.
func (s *Sketch) Merge(other *Sketch) {
	if other == nil {
		return
	}
	s.h.Merge(other.h)
}

// Clone returns an independent copy.
func (s *Sketch) Clone() *Sketch {
	c := NewSketch()
	c.Merge(s)
	return c
}

// Encode serialises the sketch with the HDR V2 compressed encoding.
func (s *Sketch) Encode() ([]byte, error) {
	b, err := s.h.Encode(hdrhistogram.V2CompressedEncodingCookieBase)
	if err != nil {
		return nil, fmt.Errorf("encode sketch: %w", err)
	}
	return b, nil
}

// DecodeSketch restores a sketch produced by Encode.
func DecodeSketch(b []byte) (*Sketch, error) {
	h, err := hdrhistogram.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode sketch: %w", err)
	}
	s := NewSketch()
	s.h.Merge(h)
	return s, nil
}

// Summary holds the statistics reported for a histogram.
type Summary struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	P999  float64 `json:"p999"`
}

// Summary computes the reported statistics.
func (s *Sketch) Summary() Summary {
	return Summary{
		Min:   s.Min(),
		Max:   s.Max(),
		Count: s.Count(),
		Mean:  round3(s.Mean()),
		P50:   s.Percentile(50),
		P75:   s.Percentile(75),
		P90:   s.Percentile(90),
		P95:   s.Percentile(95),
		P99:   s.Percentile(99),
		P999:  s.Percentile(99.9),
	}
}

// Stat returns a named statistic: min, max, count, mean, median or pNN.
func (s Summary) Stat(name string) (float64, bool) {
	switch name {
	case "min":
		return s.Min, true
	case "max":
		return s.Max, true
	case "count":
		return float64(s.Count), true
	case "mean", "avg":
		return s.Mean, true
	case "p50", "median":
		return s.P50, true
	case "p75":
		return s.P75, true
	case "p90":
		return s.P90, true
	case "p95":
		return s.P95, true
	case "p99":
		return s.P99, true
	case "p999":
		return s.P999, true
	}
	return 0, false
}

func round3(v float64) float64 {
	return math.Round(v*sketchScale) / sketchScale
}
