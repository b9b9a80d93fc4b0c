package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/tickstat/internal/dashboard"
	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/websocket"
)

func newWatchCommand() *cobra.Command {
	var (
		client clientFlags
		typ    string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the live feed of a running server in a terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if typ != "" {
				if _, err := metrics.ParseMeasurementType(typ); err != nil {
					return err
				}
			}
			feedURL, err := websocket.FeedURL(client.url, typ)
			if err != nil {
				return err
			}
			headers, err := parseHeaders(client.headers)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			feed := websocket.NewClient(websocket.Config{
				URL:              feedURL,
				Headers:          headers,
				HandshakeTimeout: client.timeout,
			})
			if err := feed.Connect(ctx); err != nil {
				return fmt.Errorf("connect to feed: %w", err)
			}
			defer feed.Close()

			dash, err := dashboard.New(feed, dashboard.Target{URL: feedURL, Type: typ}, cancel)
			if err != nil {
				return err
			}
			dash.Start()
			<-ctx.Done()
			dash.Stop()

			m := feed.Metrics()
			fmt.Fprintf(cmd.OutOrStdout(), "Received %d snapshots (%d missed, %d skipped)\n", m.MessagesReceived, m.Missed, m.Skipped)
			if err := dash.Err(); err != nil && !errors.Is(err, websocket.ErrFeedClosed) {
				return err
			}
			return nil
		},
	}

	client.register(cmd)
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Only show one measurement type")
	return cmd
}
