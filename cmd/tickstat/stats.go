package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/tickstat/internal/output"
)

func newStatsCommand() *cobra.Command {
	var (
		client  clientFlags
		jsonOut bool
		follow  bool
		refresh time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the statistics of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow && jsonOut {
				return errors.New("--follow cannot be combined with --json")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			api, provider, err := client.newStatsClient(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = provider.Shutdown(context.Background()) }()

			out := cmd.OutOrStdout()
			if follow {
				progress := output.NewProgressReporter(api.Summary, refresh, out)
				progress.Start()
				<-ctx.Done()
				progress.Stop()
				fmt.Fprintln(out)
				return nil
			}

			summary, err := api.Summary(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return output.PrintJSON(out, summary)
			}
			output.PrintSummary(out, summary)
			return nil
		},
	}

	client.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw summary as JSON")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling and show a live status line")
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "Polling interval with --follow")
	return cmd
}
