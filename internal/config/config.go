package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	DefaultAddr             = ":8080"
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultInterval         = time.Second
	DefaultQueueCapacity    = 8192
	DefaultBufferSize       = 3600
	DefaultSubscriberBuffer = 16
	DefaultMaxEndpoints     = 1000
	DefaultMemoryTimeout    = 250 * time.Millisecond
	DefaultWSPingInterval   = 60 * time.Second
	DefaultWSPingTimeout    = 10 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

// reservedPeriod is computed from lifetime totals and cannot be configured.
const reservedPeriod = "all"

type Config struct {
	ConfigFile string        `yaml:"-"`
	Server     ServerConfig  `yaml:"server"`
	Stats      StatsConfig   `yaml:"stats"`
	Log        LogConfig     `yaml:"log"`
	Tracing    TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LockFile        string        `yaml:"lock_file,omitempty"`
}

// StatsConfig configures the statistics engine and its HTTP surface.
type StatsConfig struct {
	Enabled              bool           `yaml:"enabled"`
	Interval             time.Duration  `yaml:"interval"`
	QueueCapacity        int            `yaml:"queue_capacity"`
	DrainBatch           int            `yaml:"drain_batch"`
	BufferSize           int            `yaml:"buffer_size"`
	TimingBufferSize     int            `yaml:"timing_buffer_size,omitempty"`
	ConnectionBufferSize int            `yaml:"connection_buffer_size,omitempty"`
	MemoryBufferSize     int            `yaml:"memory_buffer_size,omitempty"`
	SubscriberBuffer     int            `yaml:"subscriber_buffer"`
	MaxEndpoints         int            `yaml:"max_endpoints"`
	MemoryInterval       time.Duration  `yaml:"memory_interval"`
	MemoryTimeout        time.Duration  `yaml:"memory_timeout"`
	WSPingInterval       time.Duration  `yaml:"ws_ping_interval"`
	WSPingTimeout        time.Duration  `yaml:"ws_ping_timeout"`
	Periods              map[string]int `yaml:"periods"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export. Tracing is off unless an
// endpoint is set here or through OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint           string  `yaml:"endpoint,omitempty"`
	Protocol           string  `yaml:"protocol,omitempty"`
	ServiceName        string  `yaml:"service_name,omitempty"`
	SampleRate         float64 `yaml:"sample_rate"`
	Insecure           bool    `yaml:"insecure"`
	DisablePropagation bool    `yaml:"disable_propagation"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether incoming W3C trace context is honoured.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Enabled() && !t.DisablePropagation
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Stats: StatsConfig{
			Enabled:          true,
			Interval:         DefaultInterval,
			QueueCapacity:    DefaultQueueCapacity,
			BufferSize:       DefaultBufferSize,
			SubscriberBuffer: DefaultSubscriberBuffer,
			MaxEndpoints:     DefaultMaxEndpoints,
			MemoryInterval:   DefaultInterval,
			MemoryTimeout:    DefaultMemoryTimeout,
			WSPingInterval:   DefaultWSPingInterval,
			WSPingTimeout:    DefaultWSPingTimeout,
			Periods: map[string]int{
				"second": 1,
				"minute": 60,
				"hour":   3600,
			},
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		issues = append(issues, "server addr is required")
	}
	if c.Server.ShutdownTimeout < 0 {
		issues = append(issues, "server shutdown_timeout must be non-negative")
	}

	issues = append(issues, validateStatsConfig(c.Stats)...)
	issues = append(issues, validateLogConfig(c.Log)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateStatsConfig(s StatsConfig) []string {
	var issues []string
	if s.Interval <= 0 {
		issues = append(issues, "stats interval must be positive")
	}
	if s.QueueCapacity <= 0 {
		issues = append(issues, "stats queue_capacity must be positive")
	}
	if s.DrainBatch < 0 {
		issues = append(issues, "stats drain_batch must be non-negative")
	}
	if s.BufferSize <= 0 {
		issues = append(issues, "stats buffer_size must be positive")
	}
	overrides := []struct {
		name string
		size int
	}{
		{"timing_buffer_size", s.TimingBufferSize},
		{"connection_buffer_size", s.ConnectionBufferSize},
		{"memory_buffer_size", s.MemoryBufferSize},
	}
	for _, o := range overrides {
		if o.size < 0 {
			issues = append(issues, fmt.Sprintf("stats %s must be non-negative", o.name))
		}
	}
	if s.SubscriberBuffer <= 0 {
		issues = append(issues, "stats subscriber_buffer must be positive")
	}
	if s.MaxEndpoints <= 0 {
		issues = append(issues, "stats max_endpoints must be positive")
	}
	if s.MemoryInterval < 0 {
		issues = append(issues, "stats memory_interval must be non-negative")
	}
	if s.MemoryTimeout <= 0 {
		issues = append(issues, "stats memory_timeout must be positive")
	}
	if s.WSPingInterval <= 0 {
		issues = append(issues, "stats ws_ping_interval must be positive")
	}
	if s.WSPingTimeout <= 0 {
		issues = append(issues, "stats ws_ping_timeout must be positive")
	}

	names := make([]string, 0, len(s.Periods))
	for name := range s.Periods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch {
		case strings.TrimSpace(name) == "":
			issues = append(issues, "stats periods: name cannot be empty")
		case strings.EqualFold(name, reservedPeriod):
			issues = append(issues, fmt.Sprintf("stats periods: %q is reserved", name))
		case s.Periods[name] <= 0:
			issues = append(issues, fmt.Sprintf("stats periods: %s must span at least one interval", name))
		}
	}
	return issues
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q must be debug, info, warn or error", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format %q must be console or json", l.Format))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q must be grpc or http", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1.0 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}
	return issues
}
