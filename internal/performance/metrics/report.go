package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Report is an aggregate of metric events over a time window.
//
// Counters are exact totals. Rates are stored as occurrence counts and
// derived against the window on read, so merging never averages averages.
// Merge is commutative and associative.
type Report struct {
	Counters   map[string]int64
	RateCounts map[string]int64
	Histograms map[string]*Sketch

	// FirstMetricAt and LastMetricAt bound the observed event times.
	FirstMetricAt time.Time
	LastMetricAt  time.Time

	// Period is the start of the reporting window; PeriodEnd its end.
	Period    time.Time
	PeriodEnd time.Time
}

// NewReport creates an empty report whose window starts at period.
func NewReport(period time.Time) *Report {
	return &Report{
		Counters:   make(map[string]int64),
		RateCounts: make(map[string]int64),
		Histograms: make(map[string]*Sketch),
		Period:     period,
	}
}

// AddCounter adds value to a counter.
func (r *Report) AddCounter(name string, value int64) {
	r.Counters[name] += value
}

// AddRate records occurrences of a rate metric.
func (r *Report) AddRate(name string, n int64) {
	r.RateCounts[name] += n
}

// Observe records a histogram value.
func (r *Report) Observe(name string, value float64) {
	s, ok := r.Histograms[name]
	if !ok {
		s = NewSketch()
		r.Histograms[name] = s
	}
	s.Record(value)
}

func (r *Report) touch(t time.Time) {
	if t.IsZero() {
		return
	}
	if r.FirstMetricAt.IsZero() || t.Before(r.FirstMetricAt) {
		r.FirstMetricAt = t
	}
	if t.After(r.LastMetricAt) {
		r.LastMetricAt = t
	}
}

// Empty reports whether no metric was recorded.
func (r *Report) Empty() bool {
	return len(r.Counters) == 0 && len(r.RateCounts) == 0 && len(r.Histograms) == 0
}

// Counter returns a counter value, zero if absent.
func (r *Report) Counter(name string) int64 {
	return r.Counters[name]
}

// Window returns the length of the reporting window.
func (r *Report) Window() time.Duration {
	if r.PeriodEnd.Before(r.Period) {
		return 0
	}
	return r.PeriodEnd.Sub(r.Period)
}

// Rate returns occurrences per second over the window.
func (r *Report) Rate(name string) float64 {
	n := r.RateCounts[name]
	w := r.Window().Seconds()
	if w <= 0 {
		return 0
	}
	return round3(float64(n) / w)
}

// Rates returns every rate metric in occurrences per second.
func (r *Report) Rates() map[string]float64 {
	out := make(map[string]float64, len(r.RateCounts))
	for name := range r.RateCounts {
		out[name] = r.Rate(name)
	}
	return out
}

// Summary returns the statistics of a histogram.
func (r *Report) Summary(name string) (Summary, bool) {
	s, ok := r.Histograms[name]
	if !ok {
		return Summary{}, false
	}
	return s.Summary(), true
}

// Summaries returns statistics for every histogram.
func (r *Report) Summaries() map[string]Summary {
	out := make(map[string]Summary, len(r.Histograms))
	for name, s := range r.Histograms {
		out[name] = s.Summary()
	}
	return out
}

// Lookup resolves a metric path: a counter name, a rate name, or
// "<histogram>.<stat>". Counters win over rates of the same name.
func (r *Report) Lookup(path string) (float64, bool) {
	if v, ok := r.Counters[path]; ok {
		return float64(v), true
	}
	if _, ok := r.RateCounts[path]; ok {
		return r.Rate(path), true
	}
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		if s, ok := r.Histograms[path[:i]]; ok {
			return s.Summary().Stat(path[i+1:])
		}
	}
	return 0, false
}

// CounterNames returns counter names in sorted order.
func (r *Report) CounterNames() []string {
	return sortedKeys(r.Counters)
}

// HistogramNames returns histogram names in sorted order.
func (r *Report) HistogramNames() []string {
	names := make([]string, 0, len(r.Histograms))
	for n := range r.Histograms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	return Merge(r, nil)
}

// Merge combines two reports into a new one. Either may be nil.
func Merge(a, b *Report) *Report {
	out := NewReport(time.Time{})
	for _, r := range []*Report{a, b} {
		if r == nil {
			continue
		}
		for k, v := range r.Counters {
			out.Counters[k] += v
		}
		for k, v := range r.RateCounts {
			out.RateCounts[k] += v
		}
		for k, s := range r.Histograms {
			if existing, ok := out.Histograms[k]; ok {
				existing.Merge(s)
			} else {
				out.Histograms[k] = s.Clone()
			}
		}
		out.touch(r.FirstMetricAt)
		out.touch(r.LastMetricAt)
		if !r.Period.IsZero() && (out.Period.IsZero() || r.Period.Before(out.Period)) {
			out.Period = r.Period
		}
		if r.PeriodEnd.After(out.PeriodEnd) {
			out.PeriodEnd = r.PeriodEnd
		}
	}
	return out
}

// MergeAll folds any number of reports.
func MergeAll(reports ...*Report) *Report {
	var out *Report
	for _, r := range reports {
		out = Merge(out, r)
	}
	if out == nil {
		out = NewReport(time.Time{})
	}
	return out
}

// MergeByIndex merges the i-th report of every series. Shorter series
// contribute nothing past their end.
func MergeByIndex(series [][]*Report) []*Report {
	n := 0
	for _, s := range series {
		if len(s) > n {
			n = len(s)
		}
	}
	out := make([]*Report, n)
	for i := range out {
		var group []*Report
		for _, s := range series {
			if i < len(s) {
				group = append(group, s[i])
			}
		}
		out[i] = MergeAll(group...)
	}
	return out
}

// reportJSON is the serialised shape of a Report. Times are Unix milliseconds.
type reportJSON struct {
	Counters      map[string]int64   `json:"counters"`
	Rates         map[string]float64 `json:"rates"`
	RateCounts    map[string]int64   `json:"rateCounts"`
	Summaries     map[string]Summary `json:"summaries"`
	Histograms    map[string][]byte  `json:"histograms"`
	FirstMetricAt int64              `json:"firstMetricAt,omitempty"`
	LastMetricAt  int64              `json:"lastMetricAt,omitempty"`
	Period        int64              `json:"period,omitempty"`
	PeriodEnd     int64              `json:"periodEnd,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		Counters:      r.Counters,
		Rates:         r.Rates(),
		RateCounts:    r.RateCounts,
		Summaries:     r.Summaries(),
		Histograms:    make(map[string][]byte, len(r.Histograms)),
		FirstMetricAt: unixMilli(r.FirstMetricAt),
		LastMetricAt:  unixMilli(r.LastMetricAt),
		Period:        unixMilli(r.Period),
		PeriodEnd:     unixMilli(r.PeriodEnd),
	}
	for name, s := range r.Histograms {
		b, err := s.Encode()
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", name, err)
		}
		out.Histograms[name] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Histograms are restored from
// their encoded form so decoded reports can be merged.
func (r *Report) UnmarshalJSON(b []byte) error {
	var in reportJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	*r = *NewReport(fromUnixMilli(in.Period))
	r.PeriodEnd = fromUnixMilli(in.PeriodEnd)
	r.FirstMetricAt = fromUnixMilli(in.FirstMetricAt)
	r.LastMetricAt = fromUnixMilli(in.LastMetricAt)
	for k, v := range in.Counters {
		r.Counters[k] = v
	}
	for k, v := range in.RateCounts {
		r.RateCounts[k] = v
	}
	for name, enc := range in.Histograms {
		s, err := DecodeSketch(enc)
		if err != nil {
			return fmt.Errorf("histogram %s: %w", name, err)
		}
		r.Histograms[name] = s
	}
	return nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
