package plugins

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/pkg/jsonpath"
	"github.com/wesleyorama2/barrage/pkg/jsonschema"
)

// Counters emitted by the expect plugin.
const (
	ExpectOK           = "plugins.expect.ok"
	ExpectFailed       = "plugins.expect.failed"
	expectPrefix       = "plugins.expect."
	expectFailedSuffix = ".failed"
)

// Expect checks the `expect` list of each request against its response.
type Expect struct {
	run    *performance.RunContext
	config config.ExpectPluginConfig

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewExpect creates the plugin and attaches it after every response.
func NewExpect(run *performance.RunContext, cfg config.ExpectPluginConfig) *Expect {
	e := &Expect{run: run, config: cfg, schemas: make(map[string]*jsonschema.Schema)}
	run.Hooks.Use(performance.AfterResponse, "expect", e.afterResponse)
	return e
}

// Name implements Plugin.
func (e *Expect) Name() string { return "expect" }

func (e *Expect) afterResponse(c *performance.HookCall) {
	if c.Step == nil || len(c.Step.Expect) == 0 {
		c.Done(nil)
		return
	}

	var firstFailure *performance.AssertionError
	var failed int64
	for _, exp := range c.Step.Expect {
		if err := e.check(c.VU, exp, c.Response); err != nil {
			failed++
			events.EmitCounter(c.Emitter, ExpectFailed, 1)
			events.EmitCounter(c.Emitter, expectPrefix+exp.Kind+expectFailedSuffix, 1)
			c.Logger.Debug("expectation failed", zap.String("url", c.Request.URL), zap.Error(err))
			if firstFailure == nil {
				firstFailure = err
			}
			continue
		}
		events.EmitCounter(c.Emitter, ExpectOK, 1)
	}

	if failed > 0 {
		e.run.AddAssertionFailures(failed)
		if e.config.ReportFailuresAsErrors {
			c.Done(firstFailure)
			return
		}
	}
	c.Done(nil)
}

func (e *Expect) check(vu *performance.VirtualUser, exp config.Expectation, resp *performance.Response) *performance.AssertionError {
	fail := func(expected, actual interface{}) *performance.AssertionError {
		return &performance.AssertionError{Kind: exp.Kind, Expected: expected, Actual: actual}
	}
	want := vu.RenderValue(exp.Value)

	switch exp.Kind {
	case config.ExpectStatusCode:
		for _, code := range asList(want) {
			if n, err := strconv.Atoi(fmt.Sprint(code)); err == nil && n == resp.StatusCode {
				return nil
			}
		}
		return fail(want, resp.StatusCode)

	case config.ExpectContentType:
		got := resp.Header.Get("Content-Type")
		w := fmt.Sprint(want)
		if w == "json" {
			w = "application/json"
		}
		if !strings.Contains(strings.ToLower(got), strings.ToLower(w)) {
			return fail(w, got)
		}

	case config.ExpectHasProperty:
		path := fmt.Sprint(want)
		if !jsonpath.Exists(resp.Body, path) {
			return fail(path, "missing")
		}

	case config.ExpectEquals:
		vals := asList(want)
		for _, v := range vals[1:] {
			if fmt.Sprint(v) != fmt.Sprint(vals[0]) {
				return fail(vals[0], v)
			}
		}

	case config.ExpectHasHeader:
		name := fmt.Sprint(want)
		if len(resp.Header.Values(name)) == 0 {
			return fail(name, "missing")
		}

	case config.ExpectMatchesRegexp:
		pattern := fmt.Sprint(want)
		re, err := regexp.Compile(pattern)
		if err != nil || !re.Match(resp.Body) {
			return fail(pattern, "no match")
		}

	case config.ExpectJSONSchema:
		schema, err := e.schema(want)
		if err != nil {
			return fail("valid schema", err.Error())
		}
		if err := schema.ValidateJSON(resp.Body); err != nil {
			return fail("body matching schema", err.Error())
		}

	default:
		return fail("known expectation", exp.Kind)
	}
	return nil
}

// schema compiles a jsonSchema expectation once; v is a schema object or
// its JSON text.
func (e *Expect) schema(v interface{}) (*jsonschema.Schema, error) {
	var src string
	if s, ok := v.(string); ok {
		src = s
	} else {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		src = string(b)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.schemas[src]; ok {
		return s, nil
	}
	s, err := jsonschema.Compile(src)
	if err != nil {
		return nil, err
	}
	e.schemas[src] = s
	return s, nil
}

func asList(v interface{}) []interface{} {
	if l, ok := v.([]interface{}); ok && len(l) > 0 {
		return l
	}
	return []interface{}{v}
}
