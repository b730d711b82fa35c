package performance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

const hookedScenario = `
scenarios:
  - name: hooked
    beforeScenario: init
    afterScenario: [finish]
    beforeRequest: sign
    flow:
      - function: pick
      - get:
          url: "/items/{{ itemId }}"
          afterResponse: check
`

func TestRunner_HooksRunInOrder(t *testing.T) {
	script := parseScript(t, hookedScenario)
	target := &fakeTarget{}

	var order []string
	runner, rec := newTestRunner(t, script, target, func(reg *Registry) {
		reg.Register("init", func(c *HookCall) {
			order = append(order, "init")
			c.Vars()["started"] = true
			c.Done(nil)
		})
		reg.Register("pick", func(c *HookCall) {
			order = append(order, "pick")
			c.VU.Vars["itemId"] = 7
			c.Done(nil)
		})
		reg.Register("sign", func(c *HookCall) {
			order = append(order, "sign")
			c.Request.Header.Set("X-Signature", "s1")
			c.Done(nil)
		})
		reg.Register("check", func(c *HookCall) {
			order = append(order, "check")
			assert.Equal(t, 200, c.Response.StatusCode)
			assert.Equal(t, "/items/{{ itemId }}", c.Step.URL)
			// Completion may arrive from another goroutine.
			go func() {
				events.EmitCounter(c.Emitter, "custom.checked", 1)
				c.Done(nil)
			}()
		})
		reg.Register("finish", func(c *HookCall) {
			order = append(order, "finish")
			c.Done(nil)
		})
		reg.Use(BeforeRequest, "global", func(c *HookCall) {
			order = append(order, "global")
			c.Done(nil)
		})
	})

	vu, err := runner.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "pick", "global", "sign", "check", "finish"}, order)
	assert.Equal(t, true, vu.Vars["started"])
	assert.Equal(t, []string{"http://api.test/items/7"}, target.urls())
	assert.Equal(t, "s1", target.requests[0].Header.Get("X-Signature"))
	assert.Equal(t, int64(1), rec.counter("custom.checked"))
}

func TestNewRunner_UnknownHandlerIsFatal(t *testing.T) {
	script := parseScript(t, hookedScenario)
	run := NewRunContext(script, zaptest.NewLogger(t))
	run.Hooks.Register("init", func(c *HookCall) { c.Done(nil) })

	_, err := NewRunner(run, &fakeTarget{}, events.Discard)
	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageSetup, pe.Stage)
	assert.True(t, pe.Fatal())
}

func TestRunner_HookFailures(t *testing.T) {
	tests := []struct {
		name     string
		hook     Hook
		wantCode string
	}{
		{
			name:     "error",
			hook:     func(c *HookCall) { c.Done(errors.New("no stock")) },
			wantCode: "no stock",
		},
		{
			name:     "panic",
			hook:     func(c *HookCall) { panic("bad handler") },
			wantCode: "panic: bad handler",
		},
		{
			name:     "never completes",
			hook:     func(c *HookCall) {},
			wantCode: CodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := parseScript(t, `
scenarios:
  - flow:
      - function: pick
      - get: "/never"
`)
			script.Config.HTTP.Timeout = config.Duration(20 * time.Millisecond)
			target := &fakeTarget{}
			runner, rec := newTestRunner(t, script, target, func(reg *Registry) {
				reg.Register("pick", tt.hook)
			})

			vu, err := runner.Run(context.Background(), 0)
			var pe *ProcessorError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, StageRuntime, pe.Stage)
			assert.False(t, pe.Fatal())
			assert.Equal(t, OutcomeFailed, vu.Outcome)
			assert.Empty(t, target.urls())
			assert.Equal(t, int64(1), rec.counter(metrics.ErrorsPrefix+tt.wantCode))
		})
	}
}

func TestHookCall_ExtraDoneIsIgnored(t *testing.T) {
	call := &HookCall{Point: FunctionStep, Logger: zaptest.NewLogger(t)}
	var seen *HookCall
	finished := make(chan struct{})
	h := namedHook{name: "twice", hook: func(c *HookCall) {
		defer close(finished)
		seen = c
		c.Done(nil)
		c.Done(errors.New("late"))
	}}

	err := invoke(context.Background(), h, call, time.Second)
	assert.NoError(t, err)
	<-finished
	assert.Equal(t, int32(2), seen.completion.calls.Load())
	assert.Equal(t, "twice", seen.Name)
}

func TestHookCall_BlockingHandlerTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	call := &HookCall{Point: FunctionStep, Logger: zaptest.NewLogger(t)}
	h := namedHook{name: "stuck", hook: func(c *HookCall) {
		<-release
		c.Done(nil)
	}}

	start := time.Now()
	err := invoke(context.Background(), h, call, 50*time.Millisecond)
	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "stuck", pe.Name)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunner_BlockingFunctionStepFailsVU(t *testing.T) {
	script := parseScript(t, `
scenarios:
  - flow:
      - function: slow
      - get: "/after"
`)
	script.Config.HTTP.Timeout = config.Duration(50 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	target := &fakeTarget{}
	runner, rec := newTestRunner(t, script, target, func(reg *Registry) {
		reg.Register("slow", func(c *HookCall) {
			<-release
			c.Done(nil)
		})
	})

	vu, err := runner.Run(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, vu.Outcome)
	assert.Empty(t, target.urls())
	assert.Equal(t, int64(1), rec.counter(metrics.ErrorsPrefix+CodeTimeout))
	assert.Equal(t, int64(0), rec.counter(metrics.VUsersCompleted))
}

func TestHookCall_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	call := &HookCall{Logger: zaptest.NewLogger(t)}
	err := invoke(ctx, namedHook{name: "slow", hook: func(*HookCall) {}}, call, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", func(c *HookCall) { c.Done(nil) })
	reg.Register("a", func(c *HookCall) { c.Done(nil) })
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, ok := reg.Lookup("c")
	assert.False(t, ok)
}
