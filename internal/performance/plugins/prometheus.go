package plugins

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

var summaryStats = []string{"min", "max", "mean", "p50", "p75", "p90", "p95", "p99", "p999"}

// Prometheus mirrors reports into a prometheus registry served at /metrics.
type Prometheus struct {
	registry  *prometheus.Registry
	counters  *prometheus.CounterVec
	rates     *prometheus.GaugeVec
	summaries *prometheus.GaugeVec
	intervals prometheus.Counter

	logger *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewPrometheus creates the publisher and starts its listener when an
// address is configured.
func NewPrometheus(cfg config.PrometheusConfig, logger *zap.Logger) (*Prometheus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := sanitize(cfg.Prefix)
	if prefix == "" {
		prefix = "barrage"
	}

	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "counter_total",
			Help:      "Counters reported by virtual users.",
		}, []string{"metric"}),
		rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "rate",
			Help:      "Per-second rate over the last reporting interval.",
		}, []string{"metric"}),
		summaries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "summary",
			Help:      "Histogram statistics over the last reporting interval or the whole run.",
		}, []string{"metric", "stat", "scope"}),
		intervals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "intervals_total",
			Help:      "Intermediate reports published.",
		}),
		logger: logger.With(zap.String("component", "prometheus")),
	}
	p.registry.MustRegister(p.counters, p.rates, p.summaries, p.intervals)

	if cfg.Listen != "" {
		if err := p.serve(cfg.Listen); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Name implements Plugin.
func (p *Prometheus) Name() string { return "prometheus" }

// Handler serves the registry in the prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Addr returns the listener address, or "" when not serving.
func (p *Prometheus) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *Prometheus) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	p.mu.Lock()
	p.listener = ln
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := p.server
	p.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	p.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// OnInterval adds interval counters and sets rates and interval summaries.
func (p *Prometheus) OnInterval(r *metrics.Report) {
	p.intervals.Inc()
	for name, v := range r.Counters {
		p.counters.WithLabelValues(name).Add(float64(v))
	}
	for name, v := range r.Rates() {
		p.rates.WithLabelValues(name).Set(v)
	}
	p.setSummaries(r, "interval")
}

// AfterRun publishes the whole-run summaries.
func (p *Prometheus) AfterRun(r *metrics.Report) error {
	p.setSummaries(r, "run")
	return nil
}

func (p *Prometheus) setSummaries(r *metrics.Report, scope string) {
	for name, sum := range r.Summaries() {
		for _, stat := range summaryStats {
			if v, ok := sum.Stat(stat); ok {
				p.summaries.WithLabelValues(name, stat, scope).Set(v)
			}
		}
	}
}

// Close stops the listener.
func (p *Prometheus) Close(ctx context.Context) error {
	p.mu.Lock()
	srv := p.server
	p.server, p.listener = nil, nil
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// sanitize turns a prefix into a valid metric namespace.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}
