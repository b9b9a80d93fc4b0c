package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/tickstat/internal/httpclient"
	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/output"
)

// reportTypes are the measurement types charted in HTML reports.
var reportTypes = []metrics.MeasurementType{
	metrics.TypeTimes,
	metrics.TypeRequests,
	metrics.TypeConnections,
	metrics.TypeMemory,
}

func newReportCommand() *cobra.Command {
	var (
		client clientFlags
		out    string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an HTML report of a running server's retained history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be non-negative, got %d", limit)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			api, provider, err := client.newStatsClient(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = provider.Shutdown(context.Background()) }()

			summary, err := api.Summary(ctx)
			if err != nil {
				return err
			}
			history := make(map[metrics.MeasurementType][]metrics.Snapshot, len(reportTypes))
			for _, t := range reportTypes {
				page, err := api.History(ctx, t, httpclient.HistoryParams{})
				if err != nil {
					return fmt.Errorf("fetch %s history: %w", t, err)
				}
				history[t] = newest(page.Snapshots, limit)
			}

			var buf bytes.Buffer
			if err := output.GenerateHTMLReport(&buf, output.HistoryReport{
				Source:  api.BaseURL(),
				Summary: summary,
				History: history,
			}); err != nil {
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", out)
			return nil
		},
	}

	client.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "tickstat-report.html", "Output file")
	cmd.Flags().IntVar(&limit, "limit", 0, "Newest intervals charted per type (0 means everything retained)")
	return cmd
}

// newest keeps the last limit snapshots of an oldest-first slice.
func newest(snaps []metrics.Snapshot, limit int) []metrics.Snapshot {
	if limit <= 0 || len(snaps) <= limit {
		return snaps
	}
	return snaps[len(snaps)-limit:]
}
