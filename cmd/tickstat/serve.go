package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/tickstat/internal/config"
	"github.com/torosent/tickstat/internal/logging"
	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/server"
	"github.com/torosent/tickstat/internal/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

// errLocked is returned when another instance holds the lock file.
var errLocked = errors.New("lock file is held by another instance")

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the statistics HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, nil)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

// runServe runs the engine and the HTTP server until ctx is cancelled or one
// of them fails. A nil listener makes the server listen on cfg.Server.Addr.
func runServe(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.LockFile != "" {
		lock := flock.New(cfg.Server.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("lock %s: %w", cfg.Server.LockFile, err)
		}
		if !locked {
			return fmt.Errorf("%w: %s", errLocked, cfg.Server.LockFile)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("failed to release lock file", zap.String("path", cfg.Server.LockFile), zap.Error(err))
			}
		}()
	}

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdownTracing(provider, logger)

	var engine *metrics.Engine
	if cfg.Stats.Enabled {
		opts := engineOptions(cfg.Stats, logger)
		if mem, err := metrics.NewProcessMemory(); err != nil {
			logger.Warn("memory sampling disabled", zap.Error(err))
		} else {
			opts.MemoryReader = mem
		}
		engine = metrics.New(opts)
	} else {
		logger.Info("statistics disabled")
	}

	srv := server.New(server.Options{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		PingInterval:    cfg.Stats.WSPingInterval,
		PingTimeout:     cfg.Stats.WSPingTimeout,
		Engine:          engine,
		Logger:          logger,
		Tracing:         provider,
	})

	g, gctx := errgroup.WithContext(ctx)
	if engine != nil {
		g.Go(func() error {
			return engine.Run(gctx)
		})
	}
	g.Go(func() error {
		if ln != nil {
			return srv.Serve(gctx, ln)
		}
		return srv.Run(gctx)
	})

	err = g.Wait()
	if engine != nil {
		engine.Close()
	}
	if err != nil {
		return err
	}
	logger.Info("tickstat stopped")
	return nil
}

// engineOptions maps configuration onto engine options. Zero per-type buffer
// sizes fall back to the shared buffer size.
func engineOptions(stats config.StatsConfig, logger *zap.Logger) metrics.Options {
	sizes := make(map[metrics.MeasurementType]int)
	overrides := []struct {
		t    metrics.MeasurementType
		size int
	}{
		{metrics.TypeTimes, stats.TimingBufferSize},
		{metrics.TypeConnections, stats.ConnectionBufferSize},
		{metrics.TypeMemory, stats.MemoryBufferSize},
	}
	for _, o := range overrides {
		if o.size > 0 {
			sizes[o.t] = o.size
		}
	}

	return metrics.Options{
		Interval:         stats.Interval,
		QueueCapacity:    stats.QueueCapacity,
		DrainBatch:       stats.DrainBatch,
		BufferSize:       stats.BufferSize,
		BufferSizes:      sizes,
		SubscriberBuffer: stats.SubscriberBuffer,
		MaxEndpoints:     stats.MaxEndpoints,
		Periods:          stats.Periods,
		MemoryInterval:   stats.MemoryInterval,
		MemoryTimeout:    stats.MemoryTimeout,
		Logger:           logger,
	}
}

func shutdownTracing(provider *tracing.Provider, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
}
