package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/server"
	"github.com/torosent/tickstat/internal/tracing"
)

const (
	statsPath   = "/api/stats"
	historyPath = "/api/stats/history"

	maxErrorBodyBytes = 1024
)

// APIError is a non-2xx answer from a stats server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stats server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("stats server returned %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	Headers   http.Header
	Tracer    trace.Tracer
	Propagate bool
}

// HistoryParams selects a page of history. Since takes precedence over From
// when set.
type HistoryParams struct {
	From  int
	Limit int
	Since time.Time
}

// Client reads statistics from a running tickstat server.
type Client struct {
	base      *url.URL
	http      *http.Client
	headers   http.Header
	tracer    trace.Tracer
	propagate bool
}

// NewStatsClient creates a client for the server at base, e.g.
// "http://localhost:8080".
func NewStatsClient(base string, opts Options) (*Client, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New("server URL is required")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server URL %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""

	for key := range opts.Headers {
		if strings.ContainsAny(key, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		for _, value := range opts.Headers[key] {
			if strings.ContainsAny(value, "\r\n") {
				return nil, fmt.Errorf("invalid header value for %s", key)
			}
		}
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return &Client{
		base:      u,
		http:      NewClient(opts.Timeout),
		headers:   opts.Headers.Clone(),
		tracer:    tracer,
		propagate: opts.Propagate,
	}, nil
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Summary fetches GET /api/stats.
func (c *Client) Summary(ctx context.Context) (metrics.Summary, error) {
	var s metrics.Summary
	err := c.get(ctx, "summary", statsPath, nil, &s)
	return s, err
}

// History fetches one page of GET /api/stats/history for a measurement type.
// Snapshot durations are restored from their millisecond field.
func (c *Client) History(ctx context.Context, t metrics.MeasurementType, p HistoryParams) (server.HistoryResponse, error) {
	query := url.Values{"type": {string(t)}}
	if !p.Since.IsZero() {
		query.Set("since", p.Since.UTC().Format(time.RFC3339Nano))
	} else if p.From > 0 {
		query.Set("from", strconv.Itoa(p.From))
	}
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}

	var page server.HistoryResponse
	if err := c.get(ctx, "history", historyPath, query, &page); err != nil {
		return page, err
	}
	for i := range page.Snapshots {
		page.Snapshots[i].Duration = time.Duration(page.Snapshots[i].DurationMs * float64(time.Millisecond))
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, operation, path string, query url.Values, out any) (err error) {
	ctx, span := tracing.StartClientSpan(ctx, c.tracer, operation, c.base.Host)
	defer func() { tracing.EndSpan(span, err) }()

	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error"); msg.Exists() {
			return msg.String()
		}
	}
	return strings.TrimSpace(string(body))
}

// NewClient creates the HTTP client used against stats servers.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          8,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
