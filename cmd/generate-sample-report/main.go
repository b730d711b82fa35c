// Command generate-sample-report renders an HTML report from synthetic
// metrics, for previewing template changes without running a test.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/wesleyorama2/barrage/internal/performance/metrics"
	"github.com/wesleyorama2/barrage/internal/performance/output"
	"github.com/wesleyorama2/barrage/internal/performance/report"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := report.GenerateHTML(createSampleReport(), "Sample Load Test", outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

// createSampleReport simulates a one minute ramp from 5 to 50 arrivals per
// second reported every 10 seconds.
func createSampleReport() *output.FileReport {
	rng := rand.New(rand.NewSource(1))
	start := time.Now().Add(-time.Minute).Truncate(10 * time.Second)

	var intervals []*metrics.Report
	for i := 0; i < 6; i++ {
		r := metrics.NewReport(start.Add(time.Duration(i) * 10 * time.Second))
		r.PeriodEnd = r.Period.Add(10 * time.Second)

		arrivals := int64(50 + i*90)
		r.AddCounter(metrics.VUsersCreated, arrivals)
		r.AddCounter(metrics.VUsersCreatedBy+"browse", arrivals*3/4)
		r.AddCounter(metrics.VUsersCreatedBy+"buy", arrivals-arrivals*3/4)

		var failed int64
		for v := int64(0); v < arrivals; v++ {
			for req := 0; req < 3; req++ {
				latency := 20 + rng.ExpFloat64()*float64(15+i*10)
				r.AddCounter(metrics.HTTPRequests, 1)
				r.AddRate(metrics.HTTPRequestRate, 1)
				if latency > 400 {
					r.AddCounter(metrics.ErrorsPrefix+"ETIMEDOUT", 1)
					failed++
					break
				}
				r.AddCounter(metrics.HTTPResponses, 1)
				r.AddCounter(metrics.HTTPCodesPrefix+"200", 1)
				r.Observe(metrics.HTTPResponseTime, latency)
			}
		}
		r.AddCounter(metrics.VUsersFailed, failed)
		r.AddCounter(metrics.VUsersCompleted, arrivals-failed)
		intervals = append(intervals, r)
	}

	fr := output.MergeFileReports(&output.FileReport{
		Aggregate:    metrics.MergeAll(intervals...),
		Intermediate: intervals,
	})
	fr.RunID = "sample"
	fr.Checks = []output.CheckResult{
		{Expression: "http.response_time.p99 < 250", Passed: true, Strict: true, Actual: 212.4},
		{Expression: "errorRate <= 1", Passed: true, Strict: true, Actual: 0.2},
		{Expression: "http.request_rate > 100", Passed: false, Strict: false, Actual: 84.3},
	}
	return fr
}
