package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and an optional configuration file.
// Flags override file values, which override defaults.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}
	return loadFromFlags(flagSet)
}

func loadFromFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	cfg.Server.LockFile = strings.TrimSpace(cfg.Server.LockFile)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(cfg.Tracing.Protocol))
	if cfg.Stats.MemoryInterval == 0 {
		cfg.Stats.MemoryInterval = cfg.Stats.Interval
	}
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "server"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		if err := applyServerSettings(&cfg.Server, entry); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "stats"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		if err := applyStatsSettings(&cfg.Stats, entry); err != nil {
			return fmt.Errorf("stats: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if err := applyLogSettings(&cfg.Log, entry); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracingSettings(&cfg.Tracing, entry); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func applyServerSettings(server *ServerConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "addr", "address", "listen"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("addr: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			server.Addr = val
		}
	}
	if raw, ok := lookupSetting(settings, "shutdowntimeout", "shutdown_timeout", "shutdown-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("shutdown_timeout: %w", err)
		}
		server.ShutdownTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "lockfile", "lock_file", "lock-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("lock_file: %w", err)
		}
		server.LockFile = val
	}
	return nil
}

func applyStatsSettings(stats *StatsConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		stats.Enabled = val
	}

	durations := []struct {
		name string
		dst  *time.Duration
		keys []string
	}{
		{"interval", &stats.Interval, []string{"interval"}},
		{"memory_interval", &stats.MemoryInterval, []string{"memoryinterval", "memory_interval", "memory-interval"}},
		{"memory_timeout", &stats.MemoryTimeout, []string{"memorytimeout", "memory_timeout", "memory-timeout"}},
		{"ws_ping_interval", &stats.WSPingInterval, []string{"wspinginterval", "ws_ping_interval", "ws-ping-interval"}},
		{"ws_ping_timeout", &stats.WSPingTimeout, []string{"wspingtimeout", "ws_ping_timeout", "ws-ping-timeout"}},
	}
	for _, d := range durations {
		if raw, ok := lookupSetting(settings, d.keys...); ok {
			val, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
			*d.dst = val
		}
	}

	ints := []struct {
		name string
		dst  *int
		keys []string
	}{
		{"queue_capacity", &stats.QueueCapacity, []string{"queuecapacity", "queue_capacity", "queue-capacity"}},
		{"drain_batch", &stats.DrainBatch, []string{"drainbatch", "drain_batch", "drain-batch"}},
		{"buffer_size", &stats.BufferSize, []string{"buffersize", "buffer_size", "buffer-size"}},
		{"timing_buffer_size", &stats.TimingBufferSize, []string{"timingbuffersize", "timing_buffer_size", "timing-buffer-size"}},
		{"connection_buffer_size", &stats.ConnectionBufferSize, []string{"connectionbuffersize", "connection_buffer_size", "connection-buffer-size"}},
		{"memory_buffer_size", &stats.MemoryBufferSize, []string{"memorybuffersize", "memory_buffer_size", "memory-buffer-size"}},
		{"subscriber_buffer", &stats.SubscriberBuffer, []string{"subscriberbuffer", "subscriber_buffer", "subscriber-buffer"}},
		{"max_endpoints", &stats.MaxEndpoints, []string{"maxendpoints", "max_endpoints", "max-endpoints"}},
	}
	for _, i := range ints {
		if raw, ok := lookupSetting(settings, i.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", i.name, err)
			}
			*i.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "periods"); ok {
		periods, err := asIntMap(raw)
		if err != nil {
			return fmt.Errorf("periods: %w", err)
		}
		stats.Periods = periods
	}
	return nil
}

func applyLogSettings(log *LogConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		log.Level = val
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		log.Format = val
	}
	return nil
}

func applyTracingSettings(tracing *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		tracing.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		tracing.Protocol = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		tracing.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		tracing.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		tracing.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "disablepropagation", "disable_propagation", "disable-propagation"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("disable_propagation: %w", err)
		}
		tracing.DisablePropagation = val
	}
	return nil
}
