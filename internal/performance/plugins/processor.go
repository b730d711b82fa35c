package plugins

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance"
)

// Processor registers a set of named hook and function handlers.
type Processor func(reg *performance.Registry) error

// BuiltinProcessor is always registered before the script's processor.
const BuiltinProcessor = "builtin"

var processors = map[string]Processor{
	BuiltinProcessor: registerBuiltins,
}

// ProcessorNames lists the processor sets available without extras.
func ProcessorNames() []string {
	names := make([]string, 0, len(processors))
	for n := range processors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadProcessor registers the built-in handlers and then the named set,
// looked up in extra first. An unknown name or a failing set is a fatal
// setup error.
func LoadProcessor(run *performance.RunContext, name string, extra map[string]Processor) error {
	if err := registerBuiltins(run.Hooks); err != nil {
		return &performance.ProcessorError{Stage: performance.StageSetup, Name: BuiltinProcessor, Err: err}
	}
	if name == "" || name == BuiltinProcessor {
		return nil
	}

	p, ok := extra[name]
	if !ok {
		p, ok = processors[name]
	}
	if !ok {
		return &performance.ProcessorError{Stage: performance.StageSetup, Name: name, Err: fmt.Errorf("processor not found")}
	}
	if err := p(run.Hooks); err != nil {
		return &performance.ProcessorError{Stage: performance.StageSetup, Name: name, Err: err}
	}
	return nil
}

func registerBuiltins(reg *performance.Registry) error {
	reg.Register("setTimestamp", func(c *performance.HookCall) {
		c.Vars()["timestamp"] = time.Now().UnixMilli()
		c.Done(nil)
	})
	reg.Register("logVars", func(c *performance.HookCall) {
		c.Logger.Info("vu vars", zap.Any("vars", c.Vars()))
		c.Done(nil)
	})
	reg.Register("logResponse", func(c *performance.HookCall) {
		if c.Response == nil {
			c.Done(fmt.Errorf("logResponse used outside afterResponse"))
			return
		}
		c.Logger.Info("response",
			zap.String("url", c.Request.URL),
			zap.Int("status", c.Response.StatusCode),
			zap.Int("bytes", len(c.Response.Body)),
			zap.Duration("duration", c.Response.Duration),
		)
		c.Done(nil)
	})
	return nil
}
