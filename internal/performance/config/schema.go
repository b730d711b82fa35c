// Package config provides the test script model, loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestScript is the root of a load test definition. It is immutable once
// returned by LoadScript or ParseScript.
//
// Example YAML:
//
//	config:
//	  target: "https://api.example.com"
//	  phases:
//	    - name: warm up
//	      duration: 60
//	      arrivalRate: 5
//	      rampTo: 50
//	    - pause: 10s
//	  ensure:
//	    thresholds:
//	      - http.response_time.p99: 250
//	scenarios:
//	  - name: browse
//	    flow:
//	      - get:
//	          url: "/products"
//	          capture:
//	            - json: "$[0].id"
//	              as: productId
//	      - think: 1
//	      - get:
//	          url: "/products/{{ productId }}"
type TestScript struct {
	// Config contains global settings and the load phases
	Config ScriptConfig `json:"config" yaml:"config"`

	// Before is a flow run once before the first phase. Variables it
	// captures are visible to every virtual user. Any failure is fatal.
	Before *Scenario `json:"before,omitempty" yaml:"before,omitempty"`

	// Scenarios are the flows virtual users execute
	Scenarios []*Scenario `json:"scenarios" yaml:"scenarios"`

	// Timeline is the typed phase sequence built from Config.Phases
	Timeline []Phase `json:"-" yaml:"-"`
}

// ScriptConfig contains the global settings of a test script.
type ScriptConfig struct {
	// Target is the base URL prepended to relative request URLs
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Phases define how virtual users arrive over time
	Phases []PhaseConfig `json:"phases" yaml:"phases"`

	// MaxVusers caps concurrently active virtual users across all phases (0 = unbounded)
	MaxVusers Number `json:"maxVusers,omitempty" yaml:"maxVusers,omitempty"`

	// Variables are available to every virtual user; a list value is sampled per VU
	Variables map[string]interface{} `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Processor names a registered set of step and hook functions
	Processor string `json:"processor,omitempty" yaml:"processor,omitempty"`

	// HTTP contains transport settings
	HTTP HTTPSettings `json:"http,omitempty" yaml:"http,omitempty"`

	// Plugins configures built-in plugins
	Plugins PluginsConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`

	// Apdex is the legacy top-level location of the apdex plugin config
	Apdex *ApdexConfig `json:"apdex,omitempty" yaml:"apdex,omitempty"`

	// Ensure defines the pass/fail conditions evaluated after the run
	Ensure *EnsureConfig `json:"ensure,omitempty" yaml:"ensure,omitempty"`

	// ReportingInterval is the period of intermediate reports (default 10s)
	ReportingInterval Duration `json:"reportingInterval,omitempty" yaml:"reportingInterval,omitempty"`

	// GracePeriod is how long in-flight VUs may run after the last arrival or a stop
	GracePeriod Duration `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`
}

// PhaseConfig is the on-disk shape of a load phase. Exactly one of
// ArrivalRate, ArrivalCount or Pause is set.
type PhaseConfig struct {
	Name         string    `json:"name,omitempty" yaml:"name,omitempty"`
	Duration     *Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	ArrivalRate  *Number   `json:"arrivalRate,omitempty" yaml:"arrivalRate,omitempty"`
	ArrivalCount *Number   `json:"arrivalCount,omitempty" yaml:"arrivalCount,omitempty"`
	RampTo       *Number   `json:"rampTo,omitempty" yaml:"rampTo,omitempty"`
	MaxVusers    *Number   `json:"maxVusers,omitempty" yaml:"maxVusers,omitempty"`
	Pause        *Duration `json:"pause,omitempty" yaml:"pause,omitempty"`
}

// HTTPSettings contains HTTP transport settings.
type HTTPSettings struct {
	// Timeout is the per-request timeout (default 10s)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// MaxSockets limits connections per host (0 = unlimited)
	MaxSockets int `json:"maxSockets,omitempty" yaml:"maxSockets,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// PluginsConfig configures the built-in plugins. A nil entry disables the plugin.
type PluginsConfig struct {
	Expect     *ExpectPluginConfig `json:"expect,omitempty" yaml:"expect,omitempty"`
	Apdex      *ApdexConfig        `json:"apdex,omitempty" yaml:"apdex,omitempty"`
	Prometheus *PrometheusConfig   `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
}

// ExpectPluginConfig configures the expectations plugin.
type ExpectPluginConfig struct {
	// ReportFailuresAsErrors also counts failures under errors.*
	ReportFailuresAsErrors bool `json:"reportFailuresAsErrors,omitempty" yaml:"reportFailuresAsErrors,omitempty"`
}

// ApdexConfig configures the apdex plugin.
type ApdexConfig struct {
	// Threshold is the satisfied response time T in milliseconds (default 500)
	Threshold Number `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// PrometheusConfig configures the prometheus publisher plugin.
type PrometheusConfig struct {
	// Listen is the address serving /metrics; empty disables the listener
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`

	// Prefix is prepended to exported metric names (default "barrage")
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// EnsureConfig defines the conditions checked against the final report.
type EnsureConfig struct {
	// Thresholds are {metric: max} pairs meaning metric < max
	Thresholds []map[string]Number `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Conditions are free-form expressions such as "vusers.failed == 0"
	Conditions []ConditionConfig `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Legacy shorthand thresholds on http.response_time
	P50    *Number `json:"p50,omitempty" yaml:"p50,omitempty"`
	P95    *Number `json:"p95,omitempty" yaml:"p95,omitempty"`
	P99    *Number `json:"p99,omitempty" yaml:"p99,omitempty"`
	Median *Number `json:"median,omitempty" yaml:"median,omitempty"`
	Max    *Number `json:"max,omitempty" yaml:"max,omitempty"`

	// MaxErrorRate is the maximum percentage of failed virtual users
	MaxErrorRate *Number `json:"maxErrorRate,omitempty" yaml:"maxErrorRate,omitempty"`
}

// ConditionConfig is a single ensure expression.
type ConditionConfig struct {
	Expression string `json:"expression" yaml:"expression"`

	// Strict conditions fail the run; non-strict ones are only reported. Default true.
	Strict *bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// IsStrict reports whether a failed condition fails the run.
func (c ConditionConfig) IsStrict() bool {
	return c.Strict == nil || *c.Strict
}

// Scenario is a named flow executed by virtual users.
type Scenario struct {
	// Name of the scenario (used in vusers.created_by_name.*)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Weight is the relative probability of a VU picking this scenario (default 1)
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`

	// Hook handler names resolved against the processor at setup
	BeforeScenario StringList `json:"beforeScenario,omitempty" yaml:"beforeScenario,omitempty"`
	AfterScenario  StringList `json:"afterScenario,omitempty" yaml:"afterScenario,omitempty"`
	BeforeRequest  StringList `json:"beforeRequest,omitempty" yaml:"beforeRequest,omitempty"`
	AfterResponse  StringList `json:"afterResponse,omitempty" yaml:"afterResponse,omitempty"`

	// Flow is the ordered list of steps
	Flow []Step `json:"flow" yaml:"flow"`
}

// Number is a float that may be written as a number or a numeric string.
type Number float64

// Float returns the number as float64.
func (n Number) Float() float64 { return float64(n) }

// Int returns the number truncated to int.
func (n Number) Int() int { return int(n) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	return n.parse(value.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	return n.parse(strings.Trim(string(b), `"`))
}

func (n *Number) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*n = Number(f)
	return nil
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = StringList{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Duration is a time.Duration that can be unmarshaled from numbers
// (seconds), Go duration strings ("1m30s") or words ("2 minutes").
type Duration time.Duration

// Std returns the duration as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	return d.parse(strings.Trim(string(b), `"`))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	if s == "null" {
		*d = 0
		return nil
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
