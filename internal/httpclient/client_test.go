package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newStatsServer(t *testing.T) (*metrics.Engine, *quartz.Mock, *httptest.Server) {
	t.Helper()
	clock := quartz.NewMock(t)
	engine := metrics.New(metrics.Options{Clock: clock, BufferSize: 10, QueueCapacity: 256})
	t.Cleanup(engine.Close)
	ts := httptest.NewServer(server.New(server.Options{Engine: engine}).Handler())
	t.Cleanup(ts.Close)
	return engine, clock, ts
}

func tick(t *testing.T, engine *metrics.Engine, clock *quartz.Mock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock.Advance(time.Second).MustWait(ctx)
	engine.Tick()
}

func TestSummary(t *testing.T) {
	engine, clock, ts := newStatsServer(t)
	client, err := NewStatsClient(ts.URL, Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewStatsClient() error = %v", err)
	}

	// Each call is recorded by the server middleware once its response is
	// written, so poll until an earlier call shows up.
	var s metrics.Summary
	deadline := time.Now().Add(5 * time.Second)
	for {
		tick(t, engine, clock)
		s, err = client.Summary(context.Background())
		if err != nil {
			t.Fatalf("Summary() error = %v", err)
		}
		if s.Responses >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected a recorded response")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.Codes["200"] < 1 {
		t.Errorf("expected 200 codes, got %v", s.Codes)
	}
	if s.Endpoints["GET /api/stats"].Count < 1 {
		t.Errorf("expected /api/stats in endpoints, got %v", s.Endpoints)
	}
}

func TestHistory(t *testing.T) {
	engine, clock, ts := newStatsServer(t)
	for i := 0; i < 4; i++ {
		tick(t, engine, clock)
	}

	client, err := NewStatsClient(ts.URL, Options{})
	if err != nil {
		t.Fatalf("NewStatsClient() error = %v", err)
	}

	page, err := client.History(context.Background(), metrics.TypeRequests, HistoryParams{From: 1, Limit: 2})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if page.Type != metrics.TypeRequests || page.Capacity != 10 {
		t.Errorf("unexpected page header %+v", page)
	}
	if len(page.Snapshots) != 2 || page.Snapshots[0].Seq != 2 || page.Snapshots[1].Seq != 3 {
		t.Fatalf("unexpected snapshots %+v", page.Snapshots)
	}
	if page.Snapshots[0].Duration != time.Second {
		t.Errorf("expected duration restored to 1s, got %s", page.Snapshots[0].Duration)
	}

	all, err := client.History(context.Background(), metrics.TypeTimes, HistoryParams{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all.Snapshots) != 4 {
		t.Errorf("expected 4 retained snapshots, got %d", len(all.Snapshots))
	}

	since, err := client.History(context.Background(), metrics.TypeTimes, HistoryParams{Since: all.Snapshots[2].Start})
	if err != nil {
		t.Fatalf("History(since) error = %v", err)
	}
	if len(since.Snapshots) == 0 || since.Snapshots[0].Seq < all.Snapshots[2].Seq {
		t.Errorf("unexpected since page %+v", since.Snapshots)
	}
}

func TestHistoryUnknownType(t *testing.T) {
	_, _, ts := newStatsServer(t)
	client, err := NewStatsClient(ts.URL, Options{})
	if err != nil {
		t.Fatalf("NewStatsClient() error = %v", err)
	}

	_, err = client.History(context.Background(), metrics.MeasurementType("bogus"), HistoryParams{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "unknown measurement type") {
		t.Errorf("expected server message, got %q", apiErr.Message)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"statistics are disabled"}`, "statistics are disabled"},
		{`{"other":"x"}`, `{"other":"x"}`},
		{"  upstream failed \n", "upstream failed"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := errorMessage([]byte(tt.body)); got != tt.want {
			t.Errorf("errorMessage(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestSendsHeadersAndTraceContext(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"requests":7}`))
	}))
	defer ts.Close()

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client, err := NewStatsClient(ts.URL, Options{
		Headers:   http.Header{"Authorization": {"Bearer token"}},
		Tracer:    tp.Tracer("test"),
		Propagate: true,
	})
	if err != nil {
		t.Fatalf("NewStatsClient() error = %v", err)
	}

	s, err := client.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.Requests != 7 {
		t.Errorf("expected 7 requests, got %d", s.Requests)
	}
	if got.Get("Authorization") != "Bearer token" {
		t.Errorf("expected custom header, got %v", got)
	}
	if got.Get("Traceparent") == "" {
		t.Error("expected traceparent header")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "tickstat summary" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
}

func TestNewStatsClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		headers http.Header
		want    string
		wantErr bool
	}{
		{name: "empty", base: "", wantErr: true},
		{name: "bare host", base: "localhost:8080", want: "http://localhost:8080"},
		{name: "trailing slash", base: "https://stats.example.com/", want: "https://stats.example.com"},
		{name: "prefix path", base: "http://host/tickstat/?x=1", want: "http://host/tickstat"},
		{name: "bad scheme", base: "ftp://host", wantErr: true},
		{name: "no host", base: "http://", wantErr: true},
		{name: "header injection", base: "http://host", headers: http.Header{"X-Test": {"a\r\nb"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewStatsClient(tt.base, Options{Headers: tt.headers})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got client for %s", client.BaseURL())
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStatsClient() error = %v", err)
			}
			if client.BaseURL() != tt.want {
				t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), tt.want)
			}
		})
	}
}

func TestClientTimeoutApplied(t *testing.T) {
	timeout := 50 * time.Millisecond
	client := NewClient(timeout)
	defer client.CloseIdleConnections()

	if client.Timeout != timeout {
		t.Fatalf("expected client timeout %s, got %s", timeout, client.Timeout)
	}

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	resp, err := client.Get(server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected timeout error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			t.Fatalf("expected timeout error, got %v", err)
		}
	}

	if NewClient(-time.Second).Timeout != 0 {
		t.Error("expected negative timeout to disable the client timeout")
	}
}
