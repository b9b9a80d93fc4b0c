package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/tickstat/internal/metrics"
)

// HistoryReport is the input of an HTML report: a summary plus the retained
// history of each measurement type.
type HistoryReport struct {
	Source  string
	Summary metrics.Summary
	History map[metrics.MeasurementType][]metrics.Snapshot
}

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt string
	Source      string
	Summary     metrics.Summary
	Charts      []Chart
	ChartsJSON  string
	Endpoints   []EndpointRow
	StatusCodes []metrics.StatusBucket
	Periods     []PeriodRow
}

// Chart is one uPlot time series. Data[0] holds the interval start times in
// unix seconds, followed by one column per label.
type Chart struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Unit   string      `json:"unit"`
	Labels []string    `json:"labels"`
	Data   [][]float64 `json:"data"`
}

// EndpointRow is one line of the endpoint table.
type EndpointRow struct {
	Name  string
	Stats metrics.Stats
	Share float64
}

// PeriodRow is one summary window of the response time table.
type PeriodRow struct {
	Name  string
	Times metrics.Stats
	Conns metrics.Stats
}

// GenerateHTMLReport generates a standalone HTML report with embedded charts.
func GenerateHTMLReport(w io.Writer, report HistoryReport) error {
	charts := buildCharts(report.History)
	chartsJSON, err := json.Marshal(charts)
	if err != nil {
		return fmt.Errorf("failed to marshal charts: %w", err)
	}

	s := report.Summary
	endpoints := make([]EndpointRow, 0, len(s.Endpoints))
	for _, name := range endpointsByCount(s.Endpoints) {
		row := EndpointRow{Name: name, Stats: s.Endpoints[name]}
		if s.Responses > 0 {
			row.Share = (float64(row.Stats.Count) / float64(s.Responses)) * 100
		}
		endpoints = append(endpoints, row)
	}

	periods := make([]PeriodRow, 0, len(s.Times))
	for _, name := range periodNames(s.Times) {
		periods = append(periods, PeriodRow{Name: name, Times: s.Times[name], Conns: s.ConnectionLevels[name]})
	}

	data := HTMLReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Source:      report.Source,
		Summary:     s,
		Charts:      charts,
		ChartsJSON:  string(chartsJSON),
		Endpoints:   endpoints,
		StatusCodes: metrics.FlattenStatusCodes(s.Codes),
		Periods:     periods,
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatFloat":  func(f float64) string { return fmt.Sprintf("%.2f", f) },
		"formatMicros": func(us float64) string { return micros(us) },
		"formatUint":   func(us uint64) string { return micros(float64(us)) },
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format(time.RFC3339)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

// buildCharts turns retained snapshots into chart columns. Types without
// history produce no chart.
func buildCharts(history map[metrics.MeasurementType][]metrics.Snapshot) []Chart {
	var charts []Chart

	if snaps := history[metrics.TypeTimes]; len(snaps) > 0 {
		charts = append(charts, newChart("times-chart", "Response Time", "ms",
			[]string{"Mean", "P50", "P90", "P99"}, snaps, func(s metrics.Snapshot) []float64 {
				return []float64{s.Mean / 1000, float64(s.P50) / 1000, float64(s.P90) / 1000, float64(s.P99) / 1000}
			}))
	}
	if snaps := history[metrics.TypeRequests]; len(snaps) > 0 {
		charts = append(charts, newChart("requests-chart", "Requests Per Second", "req/s",
			[]string{"RPS"}, snaps, func(s metrics.Snapshot) []float64 {
				return []float64{perSecond(s)}
			}))
	}
	if snaps := history[metrics.TypeConnections]; len(snaps) > 0 {
		charts = append(charts, newChart("connections-chart", "Open Connections", "connections",
			[]string{"Mean", "Max"}, snaps, func(s metrics.Snapshot) []float64 {
				return []float64{s.Mean, float64(s.Max)}
			}))
	}
	if snaps := history[metrics.TypeMemory]; len(snaps) > 0 {
		charts = append(charts, newChart("memory-chart", "Memory", "MiB",
			[]string{"Mean", "Max"}, snaps, func(s metrics.Snapshot) []float64 {
				return []float64{s.Mean / (1 << 20), float64(s.Max) / (1 << 20)}
			}))
	}
	return charts
}

func newChart(id, title, unit string, labels []string, snaps []metrics.Snapshot, values func(metrics.Snapshot) []float64) Chart {
	data := make([][]float64, len(labels)+1)
	for i := range data {
		data[i] = make([]float64, 0, len(snaps))
	}
	for _, s := range snaps {
		data[0] = append(data[0], float64(s.Start.Unix()))
		for i, v := range values(s) {
			data[i+1] = append(data[i+1], v)
		}
	}
	return Chart{ID: id, Title: title, Unit: unit, Labels: labels, Data: data}
}

// perSecond rates a count snapshot over its interval. Snapshots decoded from
// JSON only carry DurationMs.
func perSecond(s metrics.Snapshot) float64 {
	seconds := s.Duration.Seconds()
	if seconds <= 0 {
		seconds = s.DurationMs / 1000
	}
	if seconds <= 0 {
		return 0
	}
	return float64(s.Count) / seconds
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>tickstat Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif;
            background: #f3f4f6;
            color: #1f2937;
            line-height: 1.5;
            padding: 24px;
        }
        main {
            max-width: 1280px;
            margin: 0 auto;
            background: #fff;
            border-radius: 8px;
            box-shadow: 0 1px 6px rgba(0,0,0,0.08);
        }
        header {
            background: #0f766e;
            color: #fff;
            padding: 28px 36px;
            border-radius: 8px 8px 0 0;
        }
        header h1 { font-size: 1.8rem; }
        header .meta { opacity: 0.85; font-size: 0.9rem; }
        header a { color: #fff; }
        .content { padding: 36px; }
        .cards {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 16px;
            margin-bottom: 36px;
        }
        .card {
            background: #f9fafb;
            border-radius: 6px;
            padding: 16px;
            border-top: 3px solid #0f766e;
        }
        .card h3 {
            font-size: 0.8rem;
            color: #6b7280;
            text-transform: uppercase;
            letter-spacing: 0.5px;
        }
        .card .value { font-size: 1.7rem; font-weight: bold; }
        .card .sub { font-size: 0.8rem; color: #6b7280; }
        .card.warn { border-top-color: #d97706; }
        section { margin-bottom: 36px; }
        section h2 {
            font-size: 1.3rem;
            margin-bottom: 16px;
            padding-bottom: 8px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart { width: 100%; min-height: 280px; margin-bottom: 24px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 10px; border-bottom: 1px solid #e5e7eb; }
        th {
            background: #f9fafb;
            font-size: 0.8rem;
            text-transform: uppercase;
            color: #4b5563;
        }
        .class-2xx { color: #047857; }
        .class-3xx { color: #0369a1; }
        .class-4xx { color: #b45309; }
        .class-5xx, .class-invalid { color: #b91c1c; }
        .empty { text-align: center; padding: 32px; color: #6b7280; font-style: italic; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <main>
        <header>
            <h1>tickstat Statistics Report</h1>
            {{if .Source}}<div class="meta">Server: <a href="{{.Source}}">{{.Source}}</a></div>{{end}}
            <div class="meta">Generated: {{.GeneratedAt}} | Started: {{formatTime .Summary.StartedAt}} | Interval: {{.Summary.Interval}}s</div>
        </header>

        <div class="content">
            <div class="cards">
                <div class="card">
                    <h3>Requests</h3>
                    <div class="value">{{.Summary.Requests}}</div>
                    <div class="sub">{{formatFloat .Summary.RequestsPerSec}} req/s</div>
                </div>
                <div class="card">
                    <h3>Responses</h3>
                    <div class="value">{{.Summary.Responses}}</div>
                    <div class="sub">{{.Summary.Bytes}} bytes sent</div>
                </div>
                <div class="card">
                    <h3>Open Connections</h3>
                    <div class="value">{{.Summary.Connections}}</div>
                    <div class="sub">{{.Summary.InFlight}} in flight</div>
                </div>
                <div class="card{{if .Summary.DroppedEvents}} warn{{end}}">
                    <h3>Dropped Events</h3>
                    <div class="value">{{.Summary.DroppedEvents}}</div>
                    <div class="sub">queue {{.Summary.QueueDepth}}/{{.Summary.QueueCapacity}}</div>
                </div>
            </div>

            <section>
                <h2>History</h2>
                {{if .Charts}}
                {{range .Charts}}<div id="{{.ID}}" class="chart"></div>
                {{end}}
                {{else}}
                <div class="empty">No intervals retained yet</div>
                {{end}}
            </section>

            {{if .Periods}}
            <section>
                <h2>Summary Windows</h2>
                <table>
                    <thead>
                        <tr><th>Window</th><th>Responses</th><th>Min</th><th>Mean</th><th>Max</th><th>Connections (mean / max)</th></tr>
                    </thead>
                    <tbody>
                        {{range .Periods}}
                        <tr>
                            <td><strong>{{.Name}}</strong></td>
                            <td>{{.Times.Count}}</td>
                            <td>{{formatUint .Times.Min}}</td>
                            <td>{{formatMicros .Times.Mean}}</td>
                            <td>{{formatUint .Times.Max}}</td>
                            <td>{{formatFloat .Conns.Mean}} / {{.Conns.Max}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </section>
            {{end}}

            <section>
                <h2>Status Codes</h2>
                {{if .StatusCodes}}
                <table>
                    <thead><tr><th>Code</th><th>Class</th><th>Count</th></tr></thead>
                    <tbody>
                        {{range .StatusCodes}}
                        <tr class="class-{{.Class}}"><td>{{.Code}}</td><td>{{.Class}}</td><td>{{.Count}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
                {{else}}
                <div class="empty">No responses recorded</div>
                {{end}}
            </section>

            {{if .Endpoints}}
            <section>
                <h2>Endpoints</h2>
                <table>
                    <thead><tr><th>Endpoint</th><th>Responses</th><th>Mean</th><th>Max</th></tr></thead>
                    <tbody>
                        {{range .Endpoints}}
                        <tr>
                            <td><strong>{{.Name}}</strong></td>
                            <td>{{.Stats.Count}} ({{formatFloat .Share}}%)</td>
                            <td>{{formatMicros .Stats.Mean}}</td>
                            <td>{{formatUint .Stats.Max}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </section>
            {{end}}
        </div>
    </main>

    {{if .Charts}}
    <script>
        const charts = JSON.parse({{.ChartsJSON}});
        const palette = ["#0f766e", "#2563eb", "#d97706", "#dc2626"];
        for (const chart of charts) {
            const el = document.getElementById(chart.id);
            const series = [{ label: "Time" }].concat(chart.labels.map((label, i) => ({
                label: label,
                stroke: palette[i % palette.length],
                width: 2
            })));
            new uPlot({
                title: chart.title + " (" + chart.unit + ")",
                width: el.offsetWidth,
                height: 280,
                series: series,
                axes: [{}, { label: chart.unit }]
            }, chart.data, el);
        }
    </script>
    {{end}}
</body>
</html>
`
