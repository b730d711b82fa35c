package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/barrage/pkg/jsonschema"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultReportingInterval = 10 * time.Second
	DefaultGracePeriod       = 30 * time.Second
	DefaultApdexThreshold    = 500
)

//go:embed script.schema.json
var scriptSchemaJSON string

var scriptSchema = mustCompile(scriptSchemaJSON)

func mustCompile(s string) *jsonschema.Schema {
	schema, err := jsonschema.Compile(s)
	if err != nil {
		panic(fmt.Sprintf("script schema: %v", err))
	}
	return schema
}

// LoadScript loads, checks and validates a test script from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadScript(path string) (*TestScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}

	return ParseScript(data, path)
}

// ParseScript parses script data, checks its structure against the
// embedded schema, applies defaults, validates it and builds the phase
// timeline.
//
// The format is determined by the file extension in path, or defaults to
// YAML if the path is empty or has an unknown extension.
func ParseScript(data []byte, path string) (*TestScript, error) {
	var script TestScript
	var generic interface{}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &script); err != nil {
			return nil, fmt.Errorf("failed to parse JSON script: %w", err)
		}
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse JSON script: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &script); err != nil {
			return nil, fmt.Errorf("failed to parse YAML script: %w", err)
		}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse YAML script: %w", err)
		}
	}

	if err := scriptSchema.ValidateValue(generic); err != nil {
		return nil, fmt.Errorf("script does not match schema: %w", err)
	}

	ApplyDefaults(&script)

	if err := script.Validate(); err != nil {
		return nil, err
	}

	timeline, err := BuildPhases(script.Config.Phases)
	if err != nil {
		return nil, err
	}
	script.Timeline = timeline

	return &script, nil
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(script *TestScript) {
	cfg := &script.Config

	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = Duration(DefaultHTTPTimeout)
	}
	if cfg.ReportingInterval == 0 {
		cfg.ReportingInterval = Duration(DefaultReportingInterval)
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = Duration(DefaultGracePeriod)
	}

	// Top-level apdex is the legacy location of the plugin config.
	if cfg.Plugins.Apdex == nil && cfg.Apdex != nil {
		cfg.Plugins.Apdex = cfg.Apdex
	}
	if cfg.Plugins.Apdex != nil && cfg.Plugins.Apdex.Threshold == 0 {
		cfg.Plugins.Apdex.Threshold = DefaultApdexThreshold
	}
	if cfg.Plugins.Prometheus != nil && cfg.Plugins.Prometheus.Prefix == "" {
		cfg.Plugins.Prometheus.Prefix = "barrage"
	}

	if script.Before != nil && script.Before.Name == "" {
		script.Before.Name = "before"
	}

	for i, sc := range script.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("scenario %d", i)
		}
		if sc.Weight == 0 {
			sc.Weight = 1
		}
	}
}

var wordDuration = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-zA-Z]+)$`)

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond, "msec": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as a number: "30", "0.5"
//   - Number and unit word: "2 minutes", "1.5 hours", "10 sec"
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration: %s", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}

	if m := wordDuration.FindStringSubmatch(s); m != nil {
		unit, ok := durationUnits[strings.ToLower(m[2])]
		if ok {
			n, _ := strconv.ParseFloat(m[1], 64)
			return time.Duration(n * float64(unit)), nil
		}
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}
