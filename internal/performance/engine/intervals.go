package engine

import (
	"sort"
	"sync"

	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

// intervalMerger combines the n-th interval of every worker into one report
// and publishes it as soon as all workers delivered it.
type intervalMerger struct {
	mu        sync.Mutex
	workers   int
	next      []int
	pending   map[int][]*metrics.Report
	published int
	publish   func(*metrics.Report)
}

func newIntervalMerger(workers int, publish func(*metrics.Report)) *intervalMerger {
	return &intervalMerger{
		workers: workers,
		next:    make([]int, workers),
		pending: make(map[int][]*metrics.Report),
		publish: publish,
	}
}

func (m *intervalMerger) add(worker int, r *metrics.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.next[worker]
	m.next[worker]++
	m.pending[idx] = append(m.pending[idx], r)

	for len(m.pending[m.published]) == m.workers {
		merged := metrics.MergeAll(m.pending[m.published]...)
		delete(m.pending, m.published)
		m.published++
		m.publish(merged)
	}
}

// flush publishes the incomplete intervals left when some workers flushed
// fewer intervals than others.
func (m *intervalMerger) flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := make([]int, 0, len(m.pending))
	for i := range m.pending {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		m.publish(metrics.MergeAll(m.pending[i]...))
		delete(m.pending, i)
	}
	m.published += len(idx)
}
