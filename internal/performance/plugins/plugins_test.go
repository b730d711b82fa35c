package plugins

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

const header = `
config:
  target: "http://api.test"
  phases:
    - duration: 1
      arrivalRate: 1
  variables:
    user: alice
`

// counters sums counter events by name.
type counters struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *counters) Emit(e events.Event) {
	if e.Kind != events.Counter {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]int64)
	}
	c.m[e.Name] += int64(e.Value)
}

func (c *counters) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

func newRun(t *testing.T, script string) *performance.RunContext {
	t.Helper()
	s, err := config.ParseScript([]byte(script), "test.yaml")
	require.NoError(t, err)
	return performance.NewRunContext(s, zaptest.NewLogger(t))
}

func jsonTarget(status int, latency time.Duration, body string) performance.Transport {
	return performance.TransportFunc(func(ctx context.Context, req *performance.Request) (*performance.Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("X-Trace", "abc")
		return &performance.Response{StatusCode: status, Header: h, Body: []byte(body), Duration: latency}, nil
	})
}

func runOnce(t *testing.T, run *performance.RunContext, tr performance.Transport, out io.Writer) (*counters, []Plugin, error) {
	t.Helper()
	loaded, err := Load(run, Options{Out: out})
	require.NoError(t, err)
	rec := &counters{}
	runner, err := performance.NewRunner(run, tr, rec)
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), 0)
	return rec, loaded, err
}

func TestExpect_AllKinds(t *testing.T) {
	run := newRun(t, header+`
  plugins:
    expect: {}
scenarios:
  - flow:
      - get:
          url: "/item"
          expect:
            - statusCode: 200
            - statusCode: [201, 200]
            - contentType: json
            - hasProperty: "$.name"
            - hasHeader: x-trace
            - matchesRegexp: '"id":\s*5'
            - equals: ["{{ user }}", "alice"]
            - jsonSchema:
                type: object
                required: [id, name]
`)
	rec, loaded, err := runOnce(t, run, jsonTarget(200, time.Millisecond, `{"id": 5, "name": "widget"}`), io.Discard)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "expect", loaded[0].Name())

	assert.Equal(t, int64(8), rec.get(ExpectOK))
	assert.Zero(t, rec.get(ExpectFailed))
	assert.Zero(t, run.AssertionFailures())
}

func TestExpect_Failures(t *testing.T) {
	tests := []struct {
		name string
		exp  string
		kind string
	}{
		{"status", "statusCode: 201", config.ExpectStatusCode},
		{"content type", "contentType: text/html", config.ExpectContentType},
		{"property", "hasProperty: missing", config.ExpectHasProperty},
		{"header", "hasHeader: x-missing", config.ExpectHasHeader},
		{"regexp", "matchesRegexp: '^nope'", config.ExpectMatchesRegexp},
		{"equals", `equals: ["{{ user }}", "bob"]`, config.ExpectEquals},
		{"schema", "jsonSchema: '{\"type\": \"array\"}'", config.ExpectJSONSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newRun(t, header+`
  plugins:
    expect: {}
scenarios:
  - flow:
      - get:
          url: "/item"
          expect:
            - `+tt.exp+`
`)
			rec, _, err := runOnce(t, run, jsonTarget(200, time.Millisecond, `{"id": 5}`), io.Discard)
			require.NoError(t, err, "failures are not errors by default")
			assert.Equal(t, int64(1), rec.get(ExpectFailed))
			assert.Equal(t, int64(1), rec.get("plugins.expect."+tt.kind+".failed"))
			assert.Equal(t, int64(1), run.AssertionFailures())
			assert.Equal(t, int64(1), rec.get(metrics.VUsersCompleted))
		})
	}
}

func TestExpect_ReportFailuresAsErrors(t *testing.T) {
	run := newRun(t, header+`
  plugins:
    expect:
      reportFailuresAsErrors: true
scenarios:
  - flow:
      - get:
          url: "/item"
          expect:
            - statusCode: 200
      - get: "/never"
`)
	rec, _, err := runOnce(t, run, jsonTarget(503, time.Millisecond, `{}`), io.Discard)
	require.Error(t, err)

	var ae *performance.AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, config.ExpectStatusCode, ae.Kind)

	assert.Equal(t, int64(1), rec.get(metrics.VUsersFailed))
	assert.Equal(t, int64(1), rec.get(metrics.ErrorsPrefix+performance.CodeExpectations))
	assert.Equal(t, int64(1), rec.get(metrics.HTTPRequests), "flow stops at the failed step")
}

func TestApdex_Classification(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    string
	}{
		{50 * time.Millisecond, ApdexSatisfied},
		{100 * time.Millisecond, ApdexSatisfied},
		{250 * time.Millisecond, ApdexTolerated},
		{400 * time.Millisecond, ApdexTolerated},
		{401 * time.Millisecond, ApdexFrustrated},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			run := newRun(t, header+`
  apdex:
    threshold: 100
scenarios:
  - flow:
      - get: "/"
`)
			rec, loaded, err := runOnce(t, run, jsonTarget(200, tt.latency, `{}`), io.Discard)
			require.NoError(t, err)
			require.Len(t, loaded, 1)
			assert.Equal(t, int64(1), rec.get(tt.want))
		})
	}
}

func TestApdex_ScoreAndBand(t *testing.T) {
	r := metrics.NewReport(time.Now())
	_, ok := ApdexScore(r)
	assert.False(t, ok)

	r.AddCounter(ApdexSatisfied, 5)
	r.AddCounter(ApdexTolerated, 3)
	r.AddCounter(ApdexFrustrated, 2)
	score, ok := ApdexScore(r)
	require.True(t, ok)
	assert.InDelta(t, 0.65, score, 1e-9)

	bands := []struct {
		score float64
		want  string
	}{
		{1, "excellent"},
		{0.94, "excellent"},
		{0.9, "good"},
		{0.85, "good"},
		{0.7, "fair"},
		{0.625, "poor"},
		{0.49, "poor"},
		{0.3, "unacceptable"},
	}
	for _, b := range bands {
		assert.Equal(t, b.want, ApdexBand(b.score), "score %v", b.score)
	}
}

func TestApdex_AfterRunPrintsScore(t *testing.T) {
	run := newRun(t, header+`
  plugins:
    apdex: {}
scenarios:
  - flow:
      - get: "/"
`)
	var out bytes.Buffer
	loaded, err := Load(run, Options{Out: &out})
	require.NoError(t, err)
	a := loaded[0].(*Apdex)
	assert.Equal(t, 500*time.Millisecond, a.Threshold())

	r := metrics.NewReport(time.Now())
	r.AddCounter(ApdexSatisfied, 2)
	r.AddCounter(ApdexTolerated, 1)
	r.AddCounter(ApdexFrustrated, 1)
	require.NoError(t, NotifyAfterRun(context.Background(), loaded, r))

	assert.Contains(t, out.String(), "Apdex score:")
	assert.Contains(t, out.String(), "0.625")
	assert.Contains(t, out.String(), "(poor)")
}

func TestPrometheus_Handler(t *testing.T) {
	p, err := NewPrometheus(config.PrometheusConfig{Prefix: "load-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, p.Addr())

	start := time.Unix(1700000000, 0)
	r := metrics.NewReport(start)
	r.PeriodEnd = start.Add(10 * time.Second)
	r.AddCounter(metrics.HTTPRequests, 40)
	r.AddRate(metrics.HTTPRequestRate, 40)
	r.Observe(metrics.HTTPResponseTime, 1)

	p.OnInterval(r)
	p.OnInterval(r)
	require.NoError(t, p.AfterRun(r))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `load_test_counter_total{metric="http.requests"} 80`)
	assert.Contains(t, body, `load_test_rate{metric="http.request_rate"} 4`)
	assert.Contains(t, body, `load_test_summary{metric="http.response_time",scope="interval",stat="max"} 1`)
	assert.Contains(t, body, `load_test_summary{metric="http.response_time",scope="run",stat="p50"} 1`)
	assert.Contains(t, body, "load_test_intervals_total 2")
}

func TestPrometheus_Listener(t *testing.T) {
	p, err := NewPrometheus(config.PrometheusConfig{Listen: "127.0.0.1:0"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotEmpty(t, p.Addr())

	resp, err := http.Get("http://" + p.Addr() + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(b), "barrage_intervals_total"))

	require.NoError(t, p.Close(context.Background()))
	assert.Empty(t, p.Addr())
}

func TestLoadProcessor(t *testing.T) {
	run := newRun(t, header+`
  processor: custom
scenarios:
  - flow:
      - function: stamp
`)
	_, err := Load(run, Options{})
	var pe *performance.ProcessorError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, performance.StageSetup, pe.Stage)
	assert.Equal(t, "custom", pe.Name)

	called := false
	_, err = Load(run, Options{Processors: map[string]Processor{
		"custom": func(reg *performance.Registry) error {
			called = true
			reg.Register("stamp", func(c *performance.HookCall) { c.Done(nil) })
			return nil
		},
	}})
	require.NoError(t, err)
	assert.True(t, called)
	_, ok := run.Hooks.Lookup("stamp")
	assert.True(t, ok)
	_, ok = run.Hooks.Lookup("setTimestamp")
	assert.True(t, ok, "built-in handlers are always registered")

	assert.Equal(t, []string{BuiltinProcessor}, ProcessorNames())
}

func TestBuiltinSetTimestamp(t *testing.T) {
	run := newRun(t, header+`
scenarios:
  - flow:
      - function: setTimestamp
      - get: "/t/{{ timestamp }}"
`)
	var got string
	tr := performance.TransportFunc(func(ctx context.Context, req *performance.Request) (*performance.Response, error) {
		got = req.URL
		return &performance.Response{StatusCode: 200, Header: http.Header{}}, nil
	})
	_, _, err := runOnce(t, run, tr, io.Discard)
	require.NoError(t, err)
	assert.Regexp(t, `^http://api\.test/t/\d{13}$`, got)
}
