package performance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/events"
)

// HookPoint identifies where in the VU pipeline a handler runs.
type HookPoint string

const (
	BeforeScenario HookPoint = "beforeScenario"
	AfterScenario  HookPoint = "afterScenario"
	BeforeRequest  HookPoint = "beforeRequest"
	AfterResponse  HookPoint = "afterResponse"
	// FunctionStep is a `function` step in a flow.
	FunctionStep HookPoint = "function"
)

// Hook is a named handler. It runs in its own goroutine and must call
// call.Done exactly once, either before returning or later from another
// goroutine.
type Hook func(call *HookCall)

// HookCall is the argument passed to a Hook.
type HookCall struct {
	Point HookPoint
	Name  string

	VU *VirtualUser
	// Step is the request step being executed, nil for scenario hooks
	Step     *config.RequestStep
	Request  *Request
	Response *Response

	Emitter events.Emitter
	Logger  *zap.Logger
	Run     *RunContext

	completion *completion
}

type completion struct {
	once  sync.Once
	calls atomic.Int32
	ch    chan error
}

// Done signals that the handler finished. Calls after the first are ignored.
func (c *HookCall) Done(err error) {
	comp := c.completion
	if comp == nil {
		return
	}
	if comp.calls.Add(1) > 1 {
		c.Logger.Warn("hook completed more than once",
			zap.String("hook", c.Name),
			zap.String("point", string(c.Point)),
		)
		return
	}
	comp.once.Do(func() { comp.ch <- err })
}

// Vars returns the VU variables.
func (c *HookCall) Vars() map[string]interface{} {
	if c.VU == nil {
		return nil
	}
	return c.VU.Vars
}

type namedHook struct {
	name string
	hook Hook
}

// Registry maps handler names to hooks. Plugins also register global hooks
// that run at a point for every VU, before the script's named handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Hook
	global   map[HookPoint][]namedHook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Hook),
		global:   make(map[HookPoint][]namedHook),
	}
}

// Register adds a named handler, replacing any previous one.
func (r *Registry) Register(name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Use attaches h to every invocation of point.
func (r *Registry) Use(point HookPoint, name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[point] = append(r.global[point], namedHook{name: name, hook: h})
}

// Lookup returns a named handler.
func (r *Registry) Lookup(name string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) globals(point HookPoint) []namedHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global[point]
}

// resolve looks up handler names once at load time. An unknown name is a
// fatal setup error.
func (r *Registry) resolve(names []string) ([]namedHook, error) {
	out := make([]namedHook, 0, len(names))
	for _, n := range names {
		h, ok := r.Lookup(n)
		if !ok {
			return nil, &ProcessorError{Stage: StageSetup, Name: n, Err: fmt.Errorf("handler not found")}
		}
		out = append(out, namedHook{name: n, hook: h})
	}
	return out, nil
}

// invoke runs a hook in its own goroutine and waits for its completion
// signal, bounded by timeout. Each invocation gets its own copy of call so a
// handler that outlives its timeout cannot complete a later hook.
func invoke(ctx context.Context, h namedHook, call *HookCall, timeout time.Duration) error {
	comp := &completion{ch: make(chan error, 1)}
	c := *call
	c.Name = h.name
	c.completion = comp

	go func() {
		defer func() {
			if p := recover(); p != nil {
				c.Done(fmt.Errorf("panic: %v", p))
			}
		}()
		h.hook(&c)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-comp.ch:
		if err != nil {
			return &ProcessorError{Stage: StageRuntime, Name: h.name, Err: err}
		}
		return nil
	case <-timer:
		return &ProcessorError{Stage: StageRuntime, Name: h.name, Err: context.DeadlineExceeded}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invokeAll runs hooks in order, stopping at the first error.
func invokeAll(ctx context.Context, hooks []namedHook, call *HookCall, timeout time.Duration) error {
	for _, h := range hooks {
		if err := invoke(ctx, h, call, timeout); err != nil {
			return err
		}
	}
	return nil
}
