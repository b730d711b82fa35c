package report

// htmlTemplate is the page layout for a rendered report.
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - Barrage Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --accent: #3b82f6;
            --ok: #22c55e;
            --warn: #f59e0b;
            --fail: #ef4444;
        }
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: var(--bg); color: var(--text); margin: 0; }
        .container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
        header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 2rem; }
        header .meta { color: var(--muted); font-size: 0.9rem; }
        header .meta span { margin-right: 1.5rem; }
        .status { padding: 0.5rem 1rem; border-radius: 6px; font-weight: 600; color: #fff; }
        .status.pass { background: var(--ok); }
        .status.fail { background: var(--fail); }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .card { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem; }
        .card .label { color: var(--muted); font-size: 0.8rem; text-transform: uppercase; }
        .card .value { font-size: 1.6rem; font-weight: 600; margin-top: 0.25rem; }
        .card .unit { font-size: 0.9rem; color: var(--muted); margin-left: 0.25rem; }
        section { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1.5rem; margin-bottom: 2rem; }
        h2 { margin-top: 0; font-size: 1.1rem; }
        table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
        th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid var(--border); }
        td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
        .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(480px, 1fr)); gap: 1.5rem; }
        .check.pass { color: var(--ok); }
        .check.fail { color: var(--fail); }
        .check.soft { color: var(--warn); }
    </style>
</head>
<body>
<div class="container">
    <header>
        <div>
            <h1>{{.Title}}</h1>
            <div class="meta">
                {{if .RunID}}<span>Run {{.RunID}}</span>{{end}}
                <span>{{formatTime .Start}}</span>
                <span>{{formatSpan .Start .End}}</span>
            </div>
        </div>
        <div class="status {{if .Passed}}pass{{else}}fail{{end}}">
            {{if .Passed}}&#10003; PASSED{{else}}&#10007; FAILED{{end}}
        </div>
    </header>

    <div class="cards">
        <div class="card">
            <div class="label">Scenarios Launched</div>
            <div class="value">{{formatNumber .Legacy.ScenariosCreated}}</div>
        </div>
        <div class="card">
            <div class="label">Requests Completed</div>
            <div class="value">{{formatNumber .Legacy.RequestsCompleted}}</div>
        </div>
        <div class="card">
            <div class="label">Request Rate</div>
            <div class="value">{{formatFloat .Legacy.RPS}}<span class="unit">req/s</span></div>
        </div>
        <div class="card">
            <div class="label">Error Rate</div>
            <div class="value">{{errorRate .Aggregate}}<span class="unit">%</span></div>
        </div>
        <div class="card">
            <div class="label">Median Response</div>
            <div class="value">{{formatFloat .Legacy.Latency.Median}}<span class="unit">ms</span></div>
        </div>
        <div class="card">
            <div class="label">P99 Response</div>
            <div class="value">{{formatFloat .Legacy.Latency.P99}}<span class="unit">ms</span></div>
        </div>
    </div>

    {{if .Checks}}
    <section>
        <h2>Checks</h2>
        <table>
            <tr><th></th><th>Expression</th><th class="num">Actual</th><th></th></tr>
            {{range .Checks}}
            <tr>
                <td class="check {{if .Passed}}pass{{else if .Strict}}fail{{else}}soft{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
                <td>{{.Expression}}</td>
                <td class="num">{{formatFloat .Actual}}</td>
                <td>{{if .Error}}{{.Error}}{{else if not .Strict}}non-strict{{end}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    <section>
        <h2>Over Time</h2>
        <div class="charts">
            <canvas id="rpsChart"></canvas>
            <canvas id="latencyChart"></canvas>
            <canvas id="errorChart"></canvas>
        </div>
    </section>

    {{if .Histograms}}
    <section>
        <h2>Histograms</h2>
        <table>
            <tr><th>Metric</th><th class="num">Count</th><th class="num">Min</th><th class="num">Mean</th><th class="num">Median</th><th class="num">P95</th><th class="num">P99</th><th class="num">Max</th></tr>
            {{range .Histograms}}
            <tr>
                <td>{{.Name}}</td>
                <td class="num">{{formatNumber .Summary.Count}}</td>
                <td class="num">{{formatFloat .Summary.Min}}</td>
                <td class="num">{{formatFloat .Summary.Mean}}</td>
                <td class="num">{{formatFloat .Summary.P50}}</td>
                <td class="num">{{formatFloat .Summary.P95}}</td>
                <td class="num">{{formatFloat .Summary.P99}}</td>
                <td class="num">{{formatFloat .Summary.Max}}</td>
            </tr>
            {{end}}
        </table>
    </section>
    {{end}}

    <section>
        <h2>Counters</h2>
        <table>
            {{range .Counters}}
            <tr><td>{{.Name}}</td><td class="num">{{.Value}}</td></tr>
            {{end}}
        </table>
    </section>

    <div class="meta">Generated {{formatTime .Generated}}</div>
</div>
<script>
    const timeSeriesData = {{.TimeSeriesJSON}};
    const labels = timeSeriesData.map(d => new Date(d.timestamp).toLocaleTimeString());

    function lineChart(id, datasets) {
        const el = document.getElementById(id);
        if (!el || timeSeriesData.length === 0) {
            return;
        }
        new Chart(el.getContext('2d'), {
            type: 'line',
            data: { labels: labels, datasets: datasets },
            options: { responsive: true, animation: false, scales: { y: { beginAtZero: true } } }
        });
    }

    lineChart('rpsChart', [
        { label: 'Requests/sec', data: timeSeriesData.map(d => d.rps), borderColor: '#3b82f6' }
    ]);
    lineChart('latencyChart', [
        { label: 'p50 (ms)', data: timeSeriesData.map(d => d.p50), borderColor: '#22c55e' },
        { label: 'p95 (ms)', data: timeSeriesData.map(d => d.p95), borderColor: '#f59e0b' },
        { label: 'p99 (ms)', data: timeSeriesData.map(d => d.p99), borderColor: '#ef4444' }
    ]);
    lineChart('errorChart', [
        { label: 'Errors', data: timeSeriesData.map(d => d.errors), borderColor: '#ef4444' },
        { label: 'VUs created', data: timeSeriesData.map(d => d.vusers), borderColor: '#64748b' }
    ]);
</script>
</body>
</html>
`
