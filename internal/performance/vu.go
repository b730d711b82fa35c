// Package performance runs virtual users: each one picks a scenario, walks
// its flow step by step and reports metrics through an events.Emitter.
package performance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/events"
	"github.com/wesleyorama2/barrage/internal/performance/metrics"
)

// Outcome is how a virtual user ended.
type Outcome string

const (
	OutcomeRunning   Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Loop variables visible to steps inside a loop.
const (
	LoopValueVar = "loopValue"
	LoopIndexVar = "loopIndex"
)

// VirtualUser is one simulated user. It runs a single scenario once and is
// never reused.
type VirtualUser struct {
	ID string
	// Seq is the arrival sequence number that launched this VU
	Seq      int64
	Scenario *config.Scenario
	Vars     map[string]interface{}
	Outcome  Outcome

	rng    *rand.Rand
	logger *zap.Logger
}

type compiledScenario struct {
	scenario *config.Scenario
	weight   int

	beforeScenario []namedHook
	afterScenario  []namedHook
	beforeRequest  []namedHook
	afterResponse  []namedHook

	// handlers referenced from steps: function steps and per-request hooks
	handlers map[string]namedHook
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSeed makes scenario selection and random templates deterministic.
func WithSeed(seed int64) RunnerOption {
	return func(r *Runner) {
		r.rng = rand.New(rand.NewSource(seed))
	}
}

// Runner executes virtual users for one run.
type Runner struct {
	run       *RunContext
	transport Transport
	emitter   events.Emitter
	logger    *zap.Logger

	scenarios   []*compiledScenario
	totalWeight int

	timeout time.Duration
	target  string
	headers map[string]string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRunner resolves every hook and function the script names. Unknown
// handlers are reported as a setup *ProcessorError.
func NewRunner(run *RunContext, transport Transport, emitter events.Emitter, opts ...RunnerOption) (*Runner, error) {
	cfg := run.Script.Config
	r := &Runner{
		run:       run,
		transport: transport,
		emitter:   emitter,
		logger:    run.Logger.With(zap.String("component", "vu")),
		timeout:   cfg.HTTP.Timeout.GetDuration(config.DefaultHTTPTimeout),
		target:    cfg.Target,
		headers:   cfg.HTTP.Headers,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, sc := range run.Script.Scenarios {
		cs, err := r.compile(sc)
		if err != nil {
			return nil, err
		}
		if cs.weight <= 0 {
			continue
		}
		r.scenarios = append(r.scenarios, cs)
		r.totalWeight += cs.weight
	}
	if r.totalWeight == 0 {
		return nil, fmt.Errorf("no scenario with a positive weight")
	}
	return r, nil
}

func (r *Runner) compile(sc *config.Scenario) (*compiledScenario, error) {
	hooks := r.run.Hooks
	cs := &compiledScenario{scenario: sc, weight: sc.Weight, handlers: make(map[string]namedHook)}

	var err error
	if cs.beforeScenario, err = hooks.resolve(sc.BeforeScenario); err != nil {
		return nil, err
	}
	if cs.afterScenario, err = hooks.resolve(sc.AfterScenario); err != nil {
		return nil, err
	}
	if cs.beforeRequest, err = hooks.resolve(sc.BeforeRequest); err != nil {
		return nil, err
	}
	if cs.afterResponse, err = hooks.resolve(sc.AfterResponse); err != nil {
		return nil, err
	}

	var names []string
	collectHandlerNames(sc.Flow, &names)
	resolved, err := hooks.resolve(names)
	if err != nil {
		return nil, err
	}
	for _, h := range resolved {
		cs.handlers[h.name] = h
	}
	return cs, nil
}

func collectHandlerNames(flow []config.Step, names *[]string) {
	for _, st := range flow {
		switch st.Kind {
		case config.StepFunction:
			*names = append(*names, st.Function)
		case config.StepRequest:
			*names = append(*names, st.Request.BeforeRequest...)
			*names = append(*names, st.Request.AfterResponse...)
		case config.StepLoop:
			collectHandlerNames(st.Loop.Flow, names)
		}
	}
}

func (r *Runner) pick() (*compiledScenario, *rand.Rand) {
	r.mu.Lock()
	n := r.rng.Intn(r.totalWeight)
	seed := r.rng.Int63()
	r.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))
	for _, cs := range r.scenarios {
		if n < cs.weight {
			return cs, rng
		}
		n -= cs.weight
	}
	return r.scenarios[len(r.scenarios)-1], rng
}

func (r *Runner) newVU(seq int64, cs *compiledScenario, rng *rand.Rand) *VirtualUser {
	id := uuid.NewString()
	vu := &VirtualUser{
		ID:       id,
		Seq:      seq,
		Scenario: cs.scenario,
		Vars:     make(map[string]interface{}, len(r.run.Script.Config.Variables)+2),
		rng:      rng,
		logger:   r.logger.With(zap.String("vu", id), zap.String("scenario", cs.scenario.Name)),
	}
	vu.Vars["target"] = r.target
	for k, v := range r.run.Script.Config.Variables {
		// A list variable gives each VU one of its values.
		if list, ok := v.([]interface{}); ok && len(list) > 0 {
			v = list[rng.Intn(len(list))]
		}
		vu.Vars[k] = v
	}
	for k, v := range r.run.SharedVars() {
		vu.Vars[k] = v
	}
	return vu
}

// Run creates a virtual user for arrival seq and runs its scenario to the
// end. A step error aborts only this VU: it is counted in vusers.failed and
// errors.<code> and returned.
func (r *Runner) Run(ctx context.Context, seq int64) (*VirtualUser, error) {
	cs, rng := r.pick()
	vu := r.newVU(seq, cs, rng)
	start := time.Now()

	events.EmitCounter(r.emitter, metrics.VUsersCreated, 1)
	events.EmitCounter(r.emitter, metrics.VUsersCreatedBy+cs.scenario.Name, 1)

	if err := r.execute(ctx, vu, cs); err != nil {
		vu.Outcome = OutcomeFailed
		code := ErrorCode(err)
		events.EmitCounter(r.emitter, metrics.VUsersFailed, 1)
		events.EmitCounter(r.emitter, metrics.ErrorsPrefix+code, 1)
		vu.logger.Debug("vu failed", zap.String("code", code), zap.Error(err))
		return vu, err
	}

	vu.Outcome = OutcomeCompleted
	events.EmitCounter(r.emitter, metrics.VUsersCompleted, 1)
	events.EmitHistogram(r.emitter, metrics.VUsersSessionTime, msSince(start))
	return vu, nil
}

// RunBefore runs the script's before flow once with a dedicated virtual
// user and shares the variables it sets with every later VU. Any failure,
// including an unknown handler, is a setup *ProcessorError.
func (r *Runner) RunBefore(ctx context.Context) error {
	sc := r.run.Script.Before
	if sc == nil {
		return nil
	}
	cs, err := r.compile(sc)
	if err != nil {
		return err
	}

	r.mu.Lock()
	rng := rand.New(rand.NewSource(r.rng.Int63()))
	r.mu.Unlock()
	vu := r.newVU(-1, cs, rng)
	initial := make(map[string]bool, len(vu.Vars))
	for k := range vu.Vars {
		initial[k] = true
	}
	vu.logger.Debug("running before flow", zap.Int("steps", len(sc.Flow)))

	if err := r.execute(ctx, vu, cs); err != nil {
		vu.Outcome = OutcomeFailed
		return &ProcessorError{Stage: StageSetup, Name: sc.Name, Err: err}
	}
	vu.Outcome = OutcomeCompleted

	// Only variables the flow introduced are shared; the rest are per VU.
	shared := make(map[string]interface{})
	for k, v := range vu.Vars {
		if !initial[k] {
			shared[k] = v
		}
	}
	r.run.SetSharedVars(shared)
	return nil
}

func (r *Runner) execute(ctx context.Context, vu *VirtualUser, cs *compiledScenario) error {
	name := cs.scenario.Name
	call := r.newCall(BeforeScenario, vu)
	hooks := append(append([]namedHook{}, r.run.Hooks.globals(BeforeScenario)...), cs.beforeScenario...)
	if err := invokeAll(ctx, hooks, call, r.timeout); err != nil {
		return &ScenarioError{Scenario: name, Step: -1, Err: err}
	}

	for i := range cs.scenario.Flow {
		if err := r.step(ctx, vu, cs, &cs.scenario.Flow[i]); err != nil {
			return &ScenarioError{Scenario: name, Step: i, Err: err}
		}
	}

	call = r.newCall(AfterScenario, vu)
	hooks = append(append([]namedHook{}, r.run.Hooks.globals(AfterScenario)...), cs.afterScenario...)
	if err := invokeAll(ctx, hooks, call, r.timeout); err != nil {
		return &ScenarioError{Scenario: name, Step: -1, Err: err}
	}
	return nil
}

func (r *Runner) newCall(point HookPoint, vu *VirtualUser) *HookCall {
	return &HookCall{
		Point:   point,
		VU:      vu,
		Emitter: r.emitter,
		Logger:  vu.logger,
		Run:     r.run,
	}
}

func (r *Runner) step(ctx context.Context, vu *VirtualUser, cs *compiledScenario, st *config.Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.IfTrue != "" && !vu.evalCondition(st.IfTrue) {
		return nil
	}

	switch st.Kind {
	case config.StepRequest:
		return r.request(ctx, vu, cs, st.Request)
	case config.StepThink:
		return sleep(ctx, st.Think.Std())
	case config.StepLoop:
		return r.loop(ctx, vu, cs, st.Loop)
	case config.StepEmit:
		return r.emit(vu, st.Emit)
	case config.StepFunction:
		call := r.newCall(FunctionStep, vu)
		return invoke(ctx, cs.handlers[st.Function], call, r.timeout)
	case config.StepLog:
		vu.logger.Info(vu.Render(st.Log))
		return nil
	}
	return fmt.Errorf("unknown step kind %q", st.Kind)
}

func (r *Runner) loop(ctx context.Context, vu *VirtualUser, cs *compiledScenario, l *config.LoopStep) error {
	prevValue, hadValue := vu.Vars[LoopValueVar]
	prevIndex, hadIndex := vu.Vars[LoopIndexVar]
	defer func() {
		restoreVar(vu.Vars, LoopValueVar, prevValue, hadValue)
		restoreVar(vu.Vars, LoopIndexVar, prevIndex, hadIndex)
	}()

	items, err := vu.loopItems(l.Over)
	if err != nil {
		return err
	}
	if items == nil {
		n := l.Count
		if n <= 0 {
			n = 1
		}
		items = make([]interface{}, n)
		for i := range items {
			items[i] = i
		}
	}

	for i, item := range items {
		vu.Vars[LoopValueVar] = item
		vu.Vars[LoopIndexVar] = i
		for j := range l.Flow {
			if err := r.step(ctx, vu, cs, &l.Flow[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// loopItems resolves `over`: a literal list, or the name of a list variable.
func (vu *VirtualUser) loopItems(over interface{}) ([]interface{}, error) {
	switch t := over.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		if len(t) == 0 {
			return []interface{}{}, nil
		}
		return vu.RenderValue(t).([]interface{}), nil
	case string:
		name := strings.TrimSpace(t)
		if m := placeholderRe.FindStringSubmatch(name); m != nil {
			name = m[1]
		}
		v, ok := vu.resolve(name)
		if !ok {
			return nil, fmt.Errorf("loop variable %q not found", name)
		}
		list, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("loop variable %q is not a list", name)
		}
		return list, nil
	}
	return nil, fmt.Errorf("loop over must be a list or a variable name, got %T", over)
}

func restoreVar(vars map[string]interface{}, key string, v interface{}, had bool) {
	if had {
		vars[key] = v
	} else {
		delete(vars, key)
	}
}

func (r *Runner) emit(vu *VirtualUser, e *config.EmitStep) error {
	kind, ok := events.ParseKind(e.Kind)
	if !ok {
		return fmt.Errorf("unknown metric kind %q", e.Kind)
	}
	value := e.Value.Float()
	if kind == events.Counter && value == 0 {
		value = 1
	}
	r.emitter.Emit(events.Event{Kind: kind, Name: vu.Render(e.Name), Value: value, Time: time.Now()})
	return nil
}

func (r *Runner) request(ctx context.Context, vu *VirtualUser, cs *compiledScenario, rs *config.RequestStep) error {
	req, err := r.buildRequest(vu, rs)
	if err != nil {
		return err
	}

	call := r.newCall(BeforeRequest, vu)
	call.Step = rs
	call.Request = req
	hooks := append(append([]namedHook{}, r.run.Hooks.globals(BeforeRequest)...), cs.beforeRequest...)
	hooks = append(hooks, cs.lookup(rs.BeforeRequest)...)
	if err := invokeAll(ctx, hooks, call, req.Timeout); err != nil {
		return err
	}

	events.EmitCounter(r.emitter, metrics.HTTPRequests, 1)
	events.EmitRate(r.emitter, metrics.HTTPRequestRate)

	reqCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	resp, err := r.transport.Do(reqCtx, req)
	cancel()
	if err != nil {
		return classify(ctx, err)
	}

	events.EmitCounter(r.emitter, metrics.HTTPResponses, 1)
	events.EmitCounter(r.emitter, fmt.Sprintf("%s%d", metrics.HTTPCodesPrefix, resp.StatusCode), 1)
	events.EmitHistogram(r.emitter, metrics.HTTPResponseTime, float64(resp.Duration)/float64(time.Millisecond))
	events.EmitCounter(r.emitter, metrics.HTTPDownloaded, int64(len(resp.Body)))

	if err := vu.applyCaptures(rs.Capture, resp); err != nil {
		return err
	}

	call.Point = AfterResponse
	call.Response = resp
	hooks = append(append([]namedHook{}, r.run.Hooks.globals(AfterResponse)...), cs.afterResponse...)
	hooks = append(hooks, cs.lookup(rs.AfterResponse)...)
	return invokeAll(ctx, hooks, call, req.Timeout)
}

func (cs *compiledScenario) lookup(names []string) []namedHook {
	out := make([]namedHook, 0, len(names))
	for _, n := range names {
		out = append(out, cs.handlers[n])
	}
	return out
}

func (r *Runner) buildRequest(vu *VirtualUser, rs *config.RequestStep) (*Request, error) {
	url := vu.Render(rs.URL)
	if !strings.Contains(url, "://") {
		url = strings.TrimRight(vu.Render(r.target), "/") + "/" + strings.TrimLeft(url, "/")
	}

	req := &Request{
		Name:    rs.Name,
		Method:  rs.Method,
		URL:     url,
		Header:  make(http.Header),
		Timeout: rs.Timeout.GetDuration(r.timeout),
	}
	if req.Name == "" {
		req.Name = url
	}
	for k, v := range r.headers {
		req.Header.Set(k, vu.Render(v))
	}
	for k, v := range rs.Headers {
		req.Header.Set(k, vu.Render(v))
	}

	switch {
	case rs.JSON != nil:
		body, err := json.Marshal(vu.RenderValue(normalizeYAML(rs.JSON)))
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		req.Body = body
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
	case rs.Body != "":
		req.Body = []byte(vu.Render(rs.Body))
	}
	return req, nil
}

// normalizeYAML converts map[interface{}]interface{} values, which
// encoding/json cannot encode, into map[string]interface{}.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	}
	return v
}

// classify turns a transport failure into a *TransportError unless the
// whole run was cancelled.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Code: ErrorCode(err), Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
