package config

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError represents a script validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test script.
//
// Zero-duration and zero-rate phases are accepted; neither produces
// arrivals. Returns nil if valid, or a *ValidationErrors containing all
// validation errors.
func (s *TestScript) Validate() error {
	errs := &ValidationErrors{}

	validateConfig(&s.Config, errs)

	if s.Before != nil {
		if len(s.Before.Flow) == 0 {
			errs.Add("before.flow", "at least one step is required")
		}
		validateFlow("before.flow", s.Before.Flow, &s.Config, errs)
	}

	if len(s.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	totalWeight := 0
	for i, sc := range s.Scenarios {
		prefix := fmt.Sprintf("scenarios[%d]", i)
		if sc == nil {
			errs.Add(prefix, "scenario must not be empty")
			continue
		}
		validateScenario(prefix, sc, &s.Config, errs)
		totalWeight += sc.Weight
	}
	if len(s.Scenarios) > 0 && totalWeight <= 0 {
		errs.Add("scenarios", "at least one scenario must have a positive weight")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateConfig(cfg *ScriptConfig, errs *ValidationErrors) {
	if cfg.Target != "" {
		if u, err := url.Parse(cfg.Target); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("config.target", fmt.Sprintf("invalid target URL: %s", cfg.Target))
		}
	}

	if len(cfg.Phases) == 0 {
		errs.Add("config.phases", "at least one phase is required")
	}
	for i, pc := range cfg.Phases {
		validatePhase(fmt.Sprintf("config.phases[%d]", i), pc, errs)
	}

	if cfg.MaxVusers < 0 {
		errs.Add("config.maxVusers", "maxVusers cannot be negative")
	}
	if cfg.HTTP.Timeout < 0 {
		errs.Add("config.http.timeout", "timeout cannot be negative")
	}
	if cfg.HTTP.MaxSockets < 0 {
		errs.Add("config.http.maxSockets", "maxSockets cannot be negative")
	}
	if cfg.ReportingInterval < 0 {
		errs.Add("config.reportingInterval", "reportingInterval cannot be negative")
	}
	if cfg.GracePeriod < 0 {
		errs.Add("config.gracePeriod", "gracePeriod cannot be negative")
	}

	if cfg.Plugins.Apdex != nil && cfg.Plugins.Apdex.Threshold < 0 {
		errs.Add("config.plugins.apdex.threshold", "threshold cannot be negative")
	}

	if cfg.Ensure != nil {
		validateEnsure("config.ensure", cfg.Ensure, errs)
	}
}

// validatePhase checks that exactly one arrival mode is set.
func validatePhase(prefix string, pc PhaseConfig, errs *ValidationErrors) {
	modes := 0
	if pc.ArrivalRate != nil {
		modes++
	}
	if pc.ArrivalCount != nil {
		modes++
	}
	if pc.Pause != nil {
		modes++
	}

	switch {
	case modes == 0:
		errs.Add(prefix, "one of arrivalRate, arrivalCount or pause is required")
	case modes > 1:
		errs.Add(prefix, "only one of arrivalRate, arrivalCount or pause may be set")
	}

	if pc.RampTo != nil && pc.ArrivalRate == nil {
		errs.Add(prefix+".rampTo", "rampTo requires arrivalRate")
	}
	if pc.Pause == nil && pc.Duration == nil && modes > 0 {
		errs.Add(prefix+".duration", "duration is required")
	}

	if pc.Duration != nil && *pc.Duration < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}
	if pc.Pause != nil && *pc.Pause < 0 {
		errs.Add(prefix+".pause", "pause cannot be negative")
	}
	for field, n := range map[string]*Number{
		"arrivalRate":  pc.ArrivalRate,
		"arrivalCount": pc.ArrivalCount,
		"rampTo":       pc.RampTo,
		"maxVusers":    pc.MaxVusers,
	} {
		if n != nil && *n < 0 {
			errs.Add(prefix+"."+field, fmt.Sprintf("%s cannot be negative", field))
		}
	}
}

func validateScenario(prefix string, sc *Scenario, cfg *ScriptConfig, errs *ValidationErrors) {
	if sc.Weight < 0 {
		errs.Add(prefix+".weight", "weight cannot be negative")
	}
	if len(sc.Flow) == 0 {
		errs.Add(prefix+".flow", "at least one step is required")
	}
	validateFlow(prefix+".flow", sc.Flow, cfg, errs)
}

func validateFlow(prefix string, flow []Step, cfg *ScriptConfig, errs *ValidationErrors) {
	for i := range flow {
		validateStep(fmt.Sprintf("%s[%d]", prefix, i), &flow[i], cfg, errs)
	}
}

func validateStep(prefix string, st *Step, cfg *ScriptConfig, errs *ValidationErrors) {
	switch st.Kind {
	case StepRequest:
		validateRequest(prefix, st.Request, cfg, errs)
	case StepThink:
		if st.Think < 0 {
			errs.Add(prefix+".think", "think time cannot be negative")
		}
	case StepLoop:
		if len(st.Loop.Flow) == 0 {
			errs.Add(prefix+".loop", "loop requires at least one step")
		}
		if st.Loop.Count < 0 {
			errs.Add(prefix+".count", "count cannot be negative")
		}
		validateFlow(prefix+".loop", st.Loop.Flow, cfg, errs)
	case StepEmit:
		if st.Emit.Name == "" {
			errs.Add(prefix+".emit.name", "metric name is required")
		}
		switch st.Emit.Kind {
		case "", "counter":
			if v := st.Emit.Value.Float(); v != math.Trunc(v) {
				errs.Add(prefix+".emit.value", fmt.Sprintf("counter value must be an integer, got %v", v))
			}
		case "rate", "histogram":
		default:
			errs.Add(prefix+".emit.kind", fmt.Sprintf("unknown metric kind: %s", st.Emit.Kind))
		}
	}
}

// validateRequest validates a single request step.
func validateRequest(prefix string, req *RequestStep, cfg *ScriptConfig, errs *ValidationErrors) {
	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") &&
		!strings.HasPrefix(req.URL, "{{") && cfg.Target == "" {
		errs.Add(prefix+".url", "relative url requires config.target")
	}

	if req.JSON != nil && req.Body != "" {
		errs.Add(prefix, "only one of json or body may be set")
	}
	if req.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}

	for i, c := range req.Capture {
		cp := fmt.Sprintf("%s.capture[%d]", prefix, i)
		n := 0
		for _, s := range []string{c.JSON, c.Header, c.Regexp} {
			if s != "" {
				n++
			}
		}
		if n != 1 {
			errs.Add(cp, "exactly one of json, header or regexp is required")
		}
		if c.As == "" {
			errs.Add(cp+".as", "capture target variable is required")
		}
		if c.Regexp != "" {
			if _, err := regexp.Compile(c.Regexp); err != nil {
				errs.Add(cp+".regexp", fmt.Sprintf("invalid regexp: %v", err))
			}
		}
	}

	for i, e := range req.Expect {
		if !expectationKinds[e.Kind] {
			errs.Add(fmt.Sprintf("%s.expect[%d]", prefix, i), fmt.Sprintf("unknown expectation: %s", e.Kind))
		}
	}
}

var conditionPattern = regexp.MustCompile(`^\s*([\w.$-]+)\s*(<=|>=|==|!=|<|>)\s*(\S+)\s*$`)

// ParseCondition splits "<path> <op> <value>" into its parts.
func ParseCondition(expr string) (path, op, value string, err error) {
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return "", "", "", fmt.Errorf("invalid condition format: %q", expr)
	}
	return m[1], m[2], m[3], nil
}

func validateEnsure(prefix string, e *EnsureConfig, errs *ValidationErrors) {
	for i, t := range e.Thresholds {
		if len(t) != 1 {
			errs.Add(fmt.Sprintf("%s.thresholds[%d]", prefix, i), "threshold must have exactly one metric")
		}
	}
	for i, c := range e.Conditions {
		if _, _, _, err := ParseCondition(c.Expression); err != nil {
			errs.Add(fmt.Sprintf("%s.conditions[%d].expression", prefix, i), err.Error())
		}
	}
	if e.MaxErrorRate != nil && (*e.MaxErrorRate < 0 || *e.MaxErrorRate > 100) {
		errs.Add(prefix+".maxErrorRate", "maxErrorRate must be between 0 and 100")
	}
}
