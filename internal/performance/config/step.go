package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepKind identifies the action a step performs.
type StepKind string

const (
	StepRequest  StepKind = "request"
	StepThink    StepKind = "think"
	StepLoop     StepKind = "loop"
	StepEmit     StepKind = "emit"
	StepFunction StepKind = "function"
	StepLog      StepKind = "log"
)

// Step is one entry of a scenario flow. Exactly one action is set.
type Step struct {
	Kind StepKind `json:"-" yaml:"-"`

	Request  *RequestStep `json:"-" yaml:"-"`
	Think    Duration     `json:"-" yaml:"-"`
	Loop     *LoopStep    `json:"-" yaml:"-"`
	Emit     *EmitStep    `json:"-" yaml:"-"`
	Function string       `json:"-" yaml:"-"`
	Log      string       `json:"-" yaml:"-"`

	// IfTrue skips the step unless the expression holds against VU vars
	IfTrue string `json:"-" yaml:"-"`
}

// RequestStep is an HTTP request.
type RequestStep struct {
	Method  string            `json:"-" yaml:"-"`
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	JSON    interface{}       `json:"json,omitempty" yaml:"json,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides config.http.timeout for this request
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Capture []CaptureConfig `json:"capture,omitempty" yaml:"capture,omitempty"`
	Expect  []Expectation   `json:"expect,omitempty" yaml:"expect,omitempty"`

	// Hook handler names specific to this request
	BeforeRequest StringList `json:"beforeRequest,omitempty" yaml:"beforeRequest,omitempty"`
	AfterResponse StringList `json:"afterResponse,omitempty" yaml:"afterResponse,omitempty"`

	IfTrue string `json:"ifTrue,omitempty" yaml:"ifTrue,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler. A scalar is a bare URL.
func (r *RequestStep) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.URL = value.Value
		return nil
	}
	type plain RequestStep
	return value.Decode((*plain)(r))
}

// UnmarshalJSON implements json.Unmarshaler. A string is a bare URL.
func (r *RequestStep) UnmarshalJSON(b []byte) error {
	var url string
	if err := json.Unmarshal(b, &url); err == nil {
		r.URL = url
		return nil
	}
	type plain RequestStep
	return json.Unmarshal(b, (*plain)(r))
}

// CaptureConfig extracts a value from a response into a VU variable.
// Exactly one of JSON, Header or Regexp is set.
type CaptureConfig struct {
	JSON   string `json:"json,omitempty" yaml:"json,omitempty"`
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
	Regexp string `json:"regexp,omitempty" yaml:"regexp,omitempty"`

	// Group selects a regexp capture group (default 0, the whole match)
	Group int `json:"group,omitempty" yaml:"group,omitempty"`

	As string `json:"as" yaml:"as"`

	// Strict captures fail the VU when they do not match. Default true.
	Strict *bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// Source returns the capture kind and its expression.
func (c CaptureConfig) Source() (kind, expr string) {
	switch {
	case c.JSON != "":
		return "json", c.JSON
	case c.Header != "":
		return "header", c.Header
	case c.Regexp != "":
		return "regexp", c.Regexp
	}
	return "", ""
}

// IsStrict reports whether a failed capture fails the VU.
func (c CaptureConfig) IsStrict() bool {
	return c.Strict == nil || *c.Strict
}

// Expectation kinds supported by the expect plugin.
const (
	ExpectStatusCode    = "statusCode"
	ExpectContentType   = "contentType"
	ExpectHasProperty   = "hasProperty"
	ExpectEquals        = "equals"
	ExpectHasHeader     = "hasHeader"
	ExpectMatchesRegexp = "matchesRegexp"
	ExpectJSONSchema    = "jsonSchema"
)

var expectationKinds = map[string]bool{
	ExpectStatusCode:    true,
	ExpectContentType:   true,
	ExpectHasProperty:   true,
	ExpectEquals:        true,
	ExpectHasHeader:     true,
	ExpectMatchesRegexp: true,
	ExpectJSONSchema:    true,
}

// Expectation is a single `kind: value` assertion on a response.
type Expectation struct {
	Kind  string
	Value interface{}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Expectation) UnmarshalYAML(value *yaml.Node) error {
	var m map[string]interface{}
	if err := value.Decode(&m); err != nil {
		return err
	}
	return e.fromMap(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Expectation) UnmarshalJSON(b []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return e.fromMap(m)
}

// MarshalJSON implements json.Marshaler.
func (e Expectation) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{e.Kind: e.Value})
}

func (e *Expectation) fromMap(m map[string]interface{}) error {
	if len(m) != 1 {
		return fmt.Errorf("expectation must have exactly one key, got %d", len(m))
	}
	for k, v := range m {
		e.Kind, e.Value = k, v
	}
	return nil
}

// LoopStep repeats a nested flow Count times or once per item of Over.
type LoopStep struct {
	Flow  []Step
	Count int
	// Over is either a literal list or the name of a list variable
	Over interface{}
}

// EmitStep records a custom metric.
type EmitStep struct {
	// Kind is counter, rate or histogram (default counter)
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Value Number `json:"value,omitempty" yaml:"value,omitempty"`
}

// stepAux is the on-disk shape of a step.
type stepAux struct {
	Get    *RequestStep `json:"get,omitempty" yaml:"get,omitempty"`
	Post   *RequestStep `json:"post,omitempty" yaml:"post,omitempty"`
	Put    *RequestStep `json:"put,omitempty" yaml:"put,omitempty"`
	Patch  *RequestStep `json:"patch,omitempty" yaml:"patch,omitempty"`
	Delete *RequestStep `json:"delete,omitempty" yaml:"delete,omitempty"`
	Head   *RequestStep `json:"head,omitempty" yaml:"head,omitempty"`

	Think    *Duration   `json:"think,omitempty" yaml:"think,omitempty"`
	Loop     []Step      `json:"loop,omitempty" yaml:"loop,omitempty"`
	Count    *Number     `json:"count,omitempty" yaml:"count,omitempty"`
	Over     interface{} `json:"over,omitempty" yaml:"over,omitempty"`
	Emit     *EmitStep   `json:"emit,omitempty" yaml:"emit,omitempty"`
	Function string      `json:"function,omitempty" yaml:"function,omitempty"`
	Log      string      `json:"log,omitempty" yaml:"log,omitempty"`
	IfTrue   string      `json:"ifTrue,omitempty" yaml:"ifTrue,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var aux stepAux
	if err := value.Decode(&aux); err != nil {
		return err
	}
	return s.fromAux(&aux)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Step) UnmarshalJSON(b []byte) error {
	var aux stepAux
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return s.fromAux(&aux)
}

// MarshalJSON implements json.Marshaler.
func (s Step) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	switch s.Kind {
	case StepRequest:
		out[strings.ToLower(s.Request.Method)] = s.Request
	case StepThink:
		out["think"] = s.Think
	case StepLoop:
		out["loop"] = s.Loop.Flow
		if s.Loop.Count > 0 {
			out["count"] = s.Loop.Count
		}
		if s.Loop.Over != nil {
			out["over"] = s.Loop.Over
		}
	case StepEmit:
		out["emit"] = s.Emit
	case StepFunction:
		out["function"] = s.Function
	case StepLog:
		out["log"] = s.Log
	}
	if s.IfTrue != "" {
		out["ifTrue"] = s.IfTrue
	}
	return json.Marshal(out)
}

func (a *stepAux) requests() map[string]*RequestStep {
	return map[string]*RequestStep{
		"GET": a.Get, "POST": a.Post, "PUT": a.Put,
		"PATCH": a.Patch, "DELETE": a.Delete, "HEAD": a.Head,
	}
}

func (s *Step) fromAux(aux *stepAux) error {
	var kinds []string

	reqs := aux.requests()
	methods := make([]string, 0, len(reqs))
	for m := range reqs {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		if r := reqs[m]; r != nil {
			r.Method = m
			s.Kind, s.Request = StepRequest, r
			kinds = append(kinds, strings.ToLower(m))
		}
	}
	if aux.Think != nil {
		s.Kind, s.Think = StepThink, *aux.Think
		kinds = append(kinds, "think")
	}
	if aux.Loop != nil {
		s.Kind = StepLoop
		s.Loop = &LoopStep{Flow: aux.Loop, Over: aux.Over}
		if aux.Count != nil {
			s.Loop.Count = aux.Count.Int()
		}
		kinds = append(kinds, "loop")
	}
	if aux.Emit != nil {
		s.Kind, s.Emit = StepEmit, aux.Emit
		kinds = append(kinds, "emit")
	}
	if aux.Function != "" {
		s.Kind, s.Function = StepFunction, aux.Function
		kinds = append(kinds, "function")
	}
	if aux.Log != "" {
		s.Kind, s.Log = StepLog, aux.Log
		kinds = append(kinds, "log")
	}

	switch len(kinds) {
	case 0:
		return fmt.Errorf("step has no action")
	case 1:
	default:
		return fmt.Errorf("step has more than one action: %s", strings.Join(kinds, ", "))
	}

	s.IfTrue = aux.IfTrue
	if s.Request != nil && s.IfTrue == "" {
		s.IfTrue = s.Request.IfTrue
	}
	return nil
}
