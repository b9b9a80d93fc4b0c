package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all configuration flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// FromCommand builds the configuration for a command whose flags were
// registered with RegisterFlags and already parsed by cobra.
func FromCommand(cmd *cobra.Command) (*Config, error) {
	return loadFromFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tickstat serve",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all configuration flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (YAML, JSON or TOML)")

	// Server flags
	flags.String("addr", DefaultAddr, "Address the HTTP server listens on")
	flags.Duration("shutdown-timeout", DefaultShutdownTimeout, "Max time to wait for open requests on shutdown")
	flags.String("lock-file", "", "Lock file preventing a second instance from starting")

	// Statistics flags
	flags.Bool("stats-enabled", true, "Collect statistics and serve the /api/stats endpoints")
	flags.Duration("interval", DefaultInterval, "Aggregation interval")
	flags.Int("queue-capacity", DefaultQueueCapacity, "Ingest queue capacity; events beyond it are dropped")
	flags.Int("drain-batch", 0, "Max events folded per drain (0 means queue capacity)")
	flags.Int("buffer-size", DefaultBufferSize, "Intervals of history kept per measurement type")
	flags.Int("timing-buffer-size", 0, "History size for response times (0 means buffer-size)")
	flags.Int("connection-buffer-size", 0, "History size for connections (0 means buffer-size)")
	flags.Int("memory-buffer-size", 0, "History size for memory (0 means buffer-size)")
	flags.Int("subscriber-buffer", DefaultSubscriberBuffer, "Snapshots buffered per live feed subscriber")
	flags.Int("max-endpoints", DefaultMaxEndpoints, "Distinct endpoints tracked before folding into \"other\"")
	flags.Duration("memory-interval", 0, "Memory sampling interval (0 means interval)")
	flags.Duration("memory-timeout", DefaultMemoryTimeout, "Timeout for a single memory reading")
	flags.Duration("ws-ping-interval", DefaultWSPingInterval, "Live feed keepalive ping interval")
	flags.Duration("ws-ping-timeout", DefaultWSPingTimeout, "Live feed pong deadline after a ping")
	flags.StringToInt("period", nil, "Summary period as name=intervals (repeatable, replaces the defaults)")

	// Logging flags
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", DefaultLogFormat, "Log format: console or json")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported in spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of traces sampled (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-no-propagate", false, "Ignore incoming W3C trace context")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"addr", &cfg.Server.Addr},
		{"lock-file", &cfg.Server.LockFile},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	durationFlags := []struct {
		name string
		dst  *time.Duration
	}{
		{"shutdown-timeout", &cfg.Server.ShutdownTimeout},
		{"interval", &cfg.Stats.Interval},
		{"memory-interval", &cfg.Stats.MemoryInterval},
		{"memory-timeout", &cfg.Stats.MemoryTimeout},
		{"ws-ping-interval", &cfg.Stats.WSPingInterval},
		{"ws-ping-timeout", &cfg.Stats.WSPingTimeout},
	}
	for _, f := range durationFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetDuration(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"queue-capacity", &cfg.Stats.QueueCapacity},
		{"drain-batch", &cfg.Stats.DrainBatch},
		{"buffer-size", &cfg.Stats.BufferSize},
		{"timing-buffer-size", &cfg.Stats.TimingBufferSize},
		{"connection-buffer-size", &cfg.Stats.ConnectionBufferSize},
		{"memory-buffer-size", &cfg.Stats.MemoryBufferSize},
		{"subscriber-buffer", &cfg.Stats.SubscriberBuffer},
		{"max-endpoints", &cfg.Stats.MaxEndpoints},
	}
	for _, f := range intFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("stats-enabled") {
		val, err := fs.GetBool("stats-enabled")
		if err != nil {
			return err
		}
		cfg.Stats.Enabled = val
	}
	if fs.Changed("period") {
		val, err := fs.GetStringToInt("period")
		if err != nil {
			return err
		}
		cfg.Stats.Periods = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-no-propagate") {
		val, err := fs.GetBool("tracing-no-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.DisablePropagation = val
	}
	return nil
}
