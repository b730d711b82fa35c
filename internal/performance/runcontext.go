package performance

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
)

// RunContext is the state shared by every component of a single run.
type RunContext struct {
	ID     string
	Script *config.TestScript
	Logger *zap.Logger
	Hooks  *Registry

	assertionFailures atomic.Int64

	mu     sync.Mutex
	fatal  error
	state  map[string]interface{}
	shared map[string]interface{}
}

// NewRunContext creates the context for one run of script.
func NewRunContext(script *config.TestScript, logger *zap.Logger) *RunContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &RunContext{
		ID:     id,
		Script: script,
		Logger: logger.With(zap.String("run", id)),
		Hooks:  NewRegistry(),
		state:  make(map[string]interface{}),
	}
}

// AddAssertionFailures records failed response expectations.
func (r *RunContext) AddAssertionFailures(n int64) {
	r.assertionFailures.Add(n)
}

// AssertionFailures returns the number of failed expectations so far.
func (r *RunContext) AssertionFailures() int64 {
	return r.assertionFailures.Load()
}

// SetFatal records an error that must fail the run. The first one wins.
func (r *RunContext) SetFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

// Fatal returns the recorded fatal error, if any.
func (r *RunContext) Fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Store returns plugin state stored under key, creating it with init on
// first use.
func (r *RunContext) Store(key string, init func() interface{}) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state[key]
	if !ok {
		v = init()
		r.state[key] = v
	}
	return v
}

// SetSharedVars records the variables captured by the before flow.
func (r *RunContext) SetSharedVars(vars map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared = vars
}

// SharedVars returns the variables captured by the before flow. The map
// must not be modified.
func (r *RunContext) SharedVars() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shared
}
