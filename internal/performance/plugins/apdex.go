package plugins

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

// Counters emitted by the apdex plugin.
const (
	ApdexSatisfied  = "apdex.satisfied"
	ApdexTolerated  = "apdex.tolerated"
	ApdexFrustrated = "apdex.frustrated"
)

// Apdex classifies every response time against a threshold T: satisfied
// up to T, tolerated up to 4T, frustrated above.
type Apdex struct {
	threshold time.Duration
	out       io.Writer
}

// NewApdex creates the plugin and attaches it after every response.
func NewApdex(run *performance.RunContext, cfg config.ApdexConfig, out io.Writer) *Apdex {
	t := cfg.Threshold.Float()
	if t <= 0 {
		t = config.DefaultApdexThreshold
	}
	a := &Apdex{threshold: time.Duration(t * float64(time.Millisecond)), out: out}
	run.Hooks.Use(performance.AfterResponse, "apdex", a.afterResponse)
	return a
}

// Name implements Plugin.
func (a *Apdex) Name() string { return "apdex" }

// Threshold returns T.
func (a *Apdex) Threshold() time.Duration { return a.threshold }

func (a *Apdex) afterResponse(c *performance.HookCall) {
	events.EmitCounter(c.Emitter, a.classify(c.Response.Duration), 1)
	c.Done(nil)
}

func (a *Apdex) classify(d time.Duration) string {
	switch {
	case d <= a.threshold:
		return ApdexSatisfied
	case d <= 4*a.threshold:
		return ApdexTolerated
	}
	return ApdexFrustrated
}

// AfterRun prints the score for the run.
func (a *Apdex) AfterRun(r *metrics.Report) error {
	score, ok := ApdexScore(r)
	if !ok {
		return nil
	}
	band := ApdexBand(score)
	paint := color.New(color.FgGreen)
	switch band {
	case "poor", "unacceptable":
		paint = color.New(color.FgRed)
	case "fair":
		paint = color.New(color.FgYellow)
	}
	_, err := fmt.Fprintf(a.out, "Apdex score: %s (%s)\n", paint.Sprintf("%.3f", score), band)
	return err
}

// ApdexScore computes (satisfied + tolerated/2) / total from the report
// counters. ok is false when no response was classified.
func ApdexScore(r *metrics.Report) (score float64, ok bool) {
	s := r.Counter(ApdexSatisfied)
	t := r.Counter(ApdexTolerated)
	f := r.Counter(ApdexFrustrated)
	total := s + t + f
	if total == 0 {
		return 0, false
	}
	return (float64(s) + float64(t)/2) / float64(total), true
}

// ApdexBand names the rating for a score.
func ApdexBand(score float64) string {
	switch {
	case score >= 0.94:
		return "excellent"
	case score >= 0.85:
		return "good"
	case score >= 0.70:
		return "fair"
	case score >= 0.49:
		return "poor"
	}
	return "unacceptable"
}
