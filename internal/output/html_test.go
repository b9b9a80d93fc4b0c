package output_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/output"
)

func historyFixture() map[metrics.MeasurementType][]metrics.Snapshot {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var times, requests, memory []metrics.Snapshot
	for i := 0; i < 3; i++ {
		at := start.Add(time.Duration(i) * time.Second)
		times = append(times, metrics.Snapshot{
			Seq: uint64(i + 1), Type: metrics.TypeTimes, Start: at, DurationMs: 1000,
			Stats: metrics.Stats{Count: 10, Mean: 2000, P50: 1500, P90: 4000, P99: 8000},
		})
		requests = append(requests, metrics.Snapshot{
			Seq: uint64(i + 1), Type: metrics.TypeRequests, Start: at, DurationMs: 500,
			Stats: metrics.Stats{Count: 10},
		})
		memory = append(memory, metrics.Snapshot{
			Seq: uint64(i + 1), Type: metrics.TypeMemory, Start: at, DurationMs: 1000,
			Stats: metrics.Stats{Count: 1, Mean: 32 << 20, Max: 32 << 20},
		})
	}
	return map[metrics.MeasurementType][]metrics.Snapshot{
		metrics.TypeTimes:    times,
		metrics.TypeRequests: requests,
		metrics.TypeMemory:   memory,
	}
}

func reportSummary() metrics.Summary {
	return metrics.Summary{
		StartedAt:      time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		Interval:       1,
		Requests:       30,
		Responses:      30,
		RequestsPerSec: 20,
		Codes:          map[string]uint64{"200": 28, "500": 2},
		Times: map[string]metrics.Stats{
			"minute":          {Count: 30, Min: 1000, Max: 9000, Mean: 2000},
			metrics.AllPeriod: {Count: 30, Min: 1000, Max: 9000, Mean: 2000},
		},
		Endpoints: map[string]metrics.Stats{
			"GET /api/users":  {Count: 20, Mean: 1500, Max: 5000},
			"GET /api/orders": {Count: 10, Mean: 3000, Max: 9000},
		},
	}
}

func TestGenerateHTMLReport(t *testing.T) {
	var buf bytes.Buffer
	err := output.GenerateHTMLReport(&buf, output.HistoryReport{
		Source:  "http://localhost:8080",
		Summary: reportSummary(),
		History: historyFixture(),
	})
	if err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}

	html := buf.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		"tickstat Statistics Report",
		"http://localhost:8080",
		`id="times-chart"`,
		`id="requests-chart"`,
		`id="memory-chart"`,
		"uPlot",
		"GET /api/users",
		"20 (66.67%)",
		"class-5xx",
		"<strong>minute</strong>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}

	if strings.Contains(html, `id="connections-chart"`) {
		t.Error("expected no connections chart without connection history")
	}
	// Busiest endpoint is listed first.
	if strings.Index(html, "GET /api/users") > strings.Index(html, "GET /api/orders") {
		t.Error("expected endpoints ordered by count")
	}
}

func TestGenerateHTMLReport_NoHistory(t *testing.T) {
	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, output.HistoryReport{Summary: metrics.Summary{}}); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}

	html := buf.String()
	if !strings.Contains(html, "No intervals retained yet") {
		t.Error("expected empty history placeholder")
	}
	if !strings.Contains(html, "No responses recorded") {
		t.Error("expected empty status placeholder")
	}
	if strings.Contains(html, "JSON.parse") {
		t.Error("expected no chart script without history")
	}
	if strings.Contains(html, "<h2>Endpoints</h2>") {
		t.Error("expected no endpoint section without endpoints")
	}
}

func TestGenerateHTMLReport_EscapesHTMLInData(t *testing.T) {
	summary := reportSummary()
	summary.Endpoints = map[string]metrics.Stats{
		"GET /<script>alert('xss')</script>": {Count: 1},
	}

	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, output.HistoryReport{
		Source:  "http://example.com/?q=<b>",
		Summary: summary,
	}); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}

	html := buf.String()
	if strings.Contains(html, "<script>alert('xss')</script>") {
		t.Error("expected endpoint names to be escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Error("expected escaped endpoint name in output")
	}
}
