package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "fraction as seconds", input: "0.5", expected: 500 * time.Millisecond},
		{name: "words minutes", input: "2 minutes", expected: 2 * time.Minute},
		{name: "words singular", input: "1 hour", expected: time.Hour},
		{name: "words short", input: "10 sec", expected: 10 * time.Second},
		{name: "words fraction", input: "1.5 hours", expected: 90 * time.Minute},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "unknown unit", input: "3 fortnights", wantErr: true},
		{name: "negative seconds", input: "-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLoadScript_YAML(t *testing.T) {
	script, err := LoadScript(filepath.Join("testdata", "basic.yaml"))
	require.NoError(t, err)

	cfg := script.Config
	assert.Equal(t, "http://localhost:8080", cfg.Target)
	assert.Equal(t, 100, cfg.MaxVusers.Int())
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout.Std())
	assert.Equal(t, DefaultReportingInterval, cfg.ReportingInterval.Std())
	assert.Equal(t, DefaultGracePeriod, cfg.GracePeriod.Std())
	require.NotNil(t, cfg.Plugins.Apdex)
	assert.Equal(t, 250.0, cfg.Plugins.Apdex.Threshold.Float())

	require.Len(t, script.Timeline, 4)
	assert.Equal(t, ArrivalRate{PhaseMeta: PhaseMeta{Name: "warm up", Duration: 2 * time.Second}, Rate: 10}, script.Timeline[0])
	assert.Equal(t, Ramp{PhaseMeta: PhaseMeta{Name: "ramp", Duration: time.Minute, MaxVusers: 20}, From: 5, To: 50}, script.Timeline[1])
	assert.Equal(t, Pause{PhaseMeta: PhaseMeta{Name: "phase 2", Duration: 10 * time.Second}}, script.Timeline[2])
	assert.Equal(t, FixedCount{PhaseMeta: PhaseMeta{Name: "phase 3", Duration: 30 * time.Second}, Count: 15}, script.Timeline[3])
	assert.Equal(t, 102*time.Second, TotalDuration(script.Timeline))

	require.Len(t, script.Scenarios, 2)
	browse := script.Scenarios[0]
	assert.Equal(t, 3, browse.Weight)
	assert.Equal(t, StringList{"setHeader"}, browse.BeforeRequest)
	require.Len(t, browse.Flow, 6)

	assert.Equal(t, StepRequest, browse.Flow[0].Kind)
	assert.Equal(t, "GET", browse.Flow[0].Request.Method)
	assert.Equal(t, "/health", browse.Flow[0].Request.URL)

	login := browse.Flow[1].Request
	assert.Equal(t, "POST", login.Method)
	assert.Equal(t, map[string]interface{}{"user": "{{ user }}"}, login.JSON)
	require.Len(t, login.Capture, 1)
	kind, expr := login.Capture[0].Source()
	assert.Equal(t, "json", kind)
	assert.Equal(t, "$.token", expr)
	assert.True(t, login.Capture[0].IsStrict())
	require.Len(t, login.Expect, 2)
	assert.Equal(t, ExpectStatusCode, login.Expect[0].Kind)
	assert.Equal(t, 200, login.Expect[0].Value)

	assert.Equal(t, StepThink, browse.Flow[2].Kind)
	assert.Equal(t, time.Second, browse.Flow[2].Think.Std())

	loop := browse.Flow[3]
	assert.Equal(t, StepLoop, loop.Kind)
	require.Len(t, loop.Loop.Flow, 1)
	assert.Equal(t, []interface{}{1, 2, 3}, loop.Loop.Over)

	assert.Equal(t, StepEmit, browse.Flow[4].Kind)
	assert.Equal(t, "custom.logins", browse.Flow[4].Emit.Name)
	assert.Equal(t, StepLog, browse.Flow[5].Kind)

	checkout := script.Scenarios[1]
	assert.Equal(t, 1, checkout.Weight, "weight defaults to 1")
	assert.Equal(t, StepFunction, checkout.Flow[0].Kind)
	assert.Equal(t, "pickProduct", checkout.Flow[0].Function)
	assert.Equal(t, "productId", checkout.Flow[1].IfTrue)

	ensure := cfg.Ensure
	require.NotNil(t, ensure)
	require.Len(t, ensure.Thresholds, 1)
	assert.Equal(t, Number(250), ensure.Thresholds[0]["http.response_time.p99"])
	require.Len(t, ensure.Conditions, 1)
	assert.False(t, ensure.Conditions[0].IsStrict())
	require.NotNil(t, ensure.P95)
	assert.Equal(t, 200.0, ensure.P95.Float())
}

func TestParseScript_JSON(t *testing.T) {
	data := []byte(`{
		"config": {
			"target": "http://example.test",
			"phases": [{"duration": "10", "arrivalRate": 2}]
		},
		"scenarios": [{"flow": [
			{"get": {"url": "/a", "expect": [{"statusCode": 200}]}},
			{"think": "500ms"},
			{"loop": [{"delete": "/b"}], "count": 3}
		]}]
	}`)

	script, err := ParseScript(data, "script.json")
	require.NoError(t, err)

	require.Len(t, script.Timeline, 1)
	assert.Equal(t, PhaseArrivalRate, script.Timeline[0].Kind())
	assert.Equal(t, 20.0, ExpectedArrivals(script.Timeline[0]))

	sc := script.Scenarios[0]
	assert.Equal(t, "scenario 0", sc.Name)
	assert.Equal(t, "GET", sc.Flow[0].Request.Method)
	assert.Equal(t, 200.0, sc.Flow[0].Request.Expect[0].Value)
	assert.Equal(t, 500*time.Millisecond, sc.Flow[1].Think.Std())
	assert.Equal(t, 3, sc.Flow[2].Loop.Count)
	assert.Equal(t, "DELETE", sc.Flow[2].Loop.Flow[0].Request.Method)
	assert.Equal(t, "/b", sc.Flow[2].Loop.Flow[0].Request.URL)
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		path string
	}{
		{"malformed yaml", "config: [", "s.yaml"},
		{"malformed json", `{"config":`, "s.json"},
		{"schema violation", "config:\n  phases: 3\nscenarios: []\n", "s.yaml"},
		{"missing scenarios", "config:\n  phases:\n    - pause: 1\n", "s.yml"},
		{"two actions in step", "config:\n  target: http://x.test\n  phases:\n    - pause: 1\nscenarios:\n  - flow:\n      - get: /a\n        think: 1\n", "s.yaml"},
		{"empty step", "config:\n  phases:\n    - pause: 1\nscenarios:\n  - flow:\n      - ifTrue: x\n", "s.yaml"},
		{"bad number", "config:\n  phases:\n    - duration: 1\n      arrivalRate: fast\nscenarios:\n  - flow:\n      - log: x\n", "s.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.data), tt.path)
			assert.Error(t, err)
		})
	}
}

func TestLoadScript_MissingFile(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadScript_UnknownExtensionIsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.txt")
	data := "config:\n  phases:\n    - pause: 1\nscenarios:\n  - flow:\n      - log: hi\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	script, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, PhasePause, script.Timeline[0].Kind())
}

func TestApplyDefaults_LegacyApdex(t *testing.T) {
	script := &TestScript{
		Config:    ScriptConfig{Apdex: &ApdexConfig{}},
		Scenarios: []*Scenario{{}},
	}
	ApplyDefaults(script)

	require.NotNil(t, script.Config.Plugins.Apdex)
	assert.Equal(t, Number(DefaultApdexThreshold), script.Config.Plugins.Apdex.Threshold)
	assert.Equal(t, DefaultHTTPTimeout, script.Config.HTTP.Timeout.Std())
	assert.Equal(t, "scenario 0", script.Scenarios[0].Name)
	assert.Equal(t, 1, script.Scenarios[0].Weight)
}
