package metrics

import (
	"strconv"
	"strings"
)

// Metric names emitted by the virtual user engine.
const (
	HTTPRequests      = "http.requests"
	HTTPResponses     = "http.responses"
	HTTPCodesPrefix   = "http.codes."
	HTTPResponseTime  = "http.response_time"
	HTTPRequestRate   = "http.request_rate"
	HTTPDownloaded    = "http.downloaded_bytes"
	VUsersCreated     = "vusers.created"
	VUsersCreatedBy   = "vusers.created_by_name."
	VUsersCompleted   = "vusers.completed"
	VUsersFailed      = "vusers.failed"
	VUsersSessionTime = "vusers.session_length"
	ErrorsPrefix      = "errors."
)

// LatencySummary is the legacy latency block in milliseconds.
type LatencySummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// LegacySummary is the flattened report shape used by older consumers.
type LegacySummary struct {
	RequestsCompleted  int64            `json:"requestsCompleted"`
	Codes              map[int]int64    `json:"codes"`
	Errors             map[string]int64 `json:"errors"`
	ScenariosCreated   int64            `json:"scenariosCreated"`
	ScenariosCompleted int64            `json:"scenariosCompleted"`
	Latency            LatencySummary   `json:"latency"`
	RPS                float64          `json:"rps"`
}

// Legacy returns the flattened view of the report.
func (r *Report) Legacy() LegacySummary {
	out := LegacySummary{
		RequestsCompleted:  r.Counters[HTTPResponses],
		Codes:              make(map[int]int64),
		Errors:             make(map[string]int64),
		ScenariosCreated:   r.Counters[VUsersCreated],
		ScenariosCompleted: r.Counters[VUsersCompleted],
		RPS:                r.Rate(HTTPRequestRate),
	}

	for name, v := range r.Counters {
		switch {
		case strings.HasPrefix(name, HTTPCodesPrefix):
			code, err := strconv.Atoi(strings.TrimPrefix(name, HTTPCodesPrefix))
			if err == nil {
				out.Codes[code] += v
			}
		case strings.HasPrefix(name, ErrorsPrefix):
			out.Errors[strings.TrimPrefix(name, ErrorsPrefix)] += v
		}
	}

	if s, ok := r.Summary(HTTPResponseTime); ok {
		out.Latency = LatencySummary{
			Min:    s.Min,
			Max:    s.Max,
			Median: s.P50,
			P95:    s.P95,
			P99:    s.P99,
		}
	}
	return out
}
