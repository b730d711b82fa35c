package metrics

import "sync"

// History retains the most recent interval reports in a ring buffer.
//
// It is written by the aggregator goroutine and may be read concurrently.
type History struct {
	reports []*Report
	head    int // Next write position
	count   int
	mu      sync.RWMutex
}

// NewHistory creates a history holding at most maxReports intervals.
func NewHistory(maxReports int) *History {
	if maxReports <= 0 {
		maxReports = 3600
	}
	return &History{reports: make([]*Report, maxReports)}
}

// Add appends an interval report, evicting the oldest when full.
func (h *History) Add(r *Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports[h.head] = r
	h.head = (h.head + 1) % len(h.reports)
	if h.count < len(h.reports) {
		h.count++
	}
}

// All returns retained reports, oldest first.
func (h *History) All() []*Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Report, 0, h.count)
	start := (h.head - h.count + len(h.reports)) % len(h.reports)
	for i := 0; i < h.count; i++ {
		out = append(out, h.reports[(start+i)%len(h.reports)])
	}
	return out
}

// Len returns the number of retained reports.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
