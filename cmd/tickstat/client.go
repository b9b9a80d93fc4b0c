package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/tickstat/internal/config"
	"github.com/torosent/tickstat/internal/httpclient"
	"github.com/torosent/tickstat/internal/tracing"
)

const (
	defaultServerURL     = "http://localhost:8080"
	defaultClientTimeout = 10 * time.Second
)

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	url     string
	timeout time.Duration
	headers []string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.url, "url", defaultServerURL, "Base URL of the tickstat server")
	flags.DurationVar(&f.timeout, "timeout", defaultClientTimeout, "Request timeout")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, "Extra request header as \"Key: Value\" (repeatable)")
}

// newStatsClient builds an API client. Client spans are exported when
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
func (f *clientFlags) newStatsClient(ctx context.Context) (*httpclient.Client, *tracing.Provider, error) {
	headers, err := parseHeaders(f.headers)
	if err != nil {
		return nil, nil, err
	}
	provider, err := tracing.Init(ctx, config.TracingConfig{SampleRate: 1.0})
	if err != nil {
		return nil, nil, err
	}
	client, err := httpclient.NewStatsClient(f.url, httpclient.Options{
		Timeout:   f.timeout,
		Headers:   headers,
		Tracer:    provider.Tracer(),
		Propagate: provider.ShouldPropagate(),
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return client, provider, nil
}

// parseHeaders turns "Key: Value" pairs into a header set.
func parseHeaders(raw []string) (http.Header, error) {
	headers := http.Header{}
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Key: Value\"", entry)
		}
		if strings.ContainsAny(key, " \t\r\n") || strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header %q", entry)
		}
		headers.Add(key, strings.TrimSpace(value))
	}
	return headers, nil
}
