package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnivurse/crm-eco-sub011/internal/scheduler"
	"github.com/omnivurse/crm-eco-sub011/pkg/mcp"
)

var serveMCP bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve the MCP tools over stdio")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tick scheduler",
	Long:  "Run the tick scheduler until interrupted. With --mcp the tool server runs on stdin/stdout alongside it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := scheduler.New(a.processor, cfg.schedulerConfig(), a.logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		a.logger.Info("sequencer serving",
			"instance_id", cfg.InstanceID,
			"db", cfg.DBPath,
			"queue", cfg.QueueBackend,
			"workers", cfg.Workers,
			"next_tick", sched.NextRun(time.Now()),
		)

		if serveMCP {
			srv := mcp.NewSequencerServer(mcp.SequencerServerDeps{
				Engine: a.engine,
				Store:  a.store,
				Ticker: sched,
				Events: a.events,
				Logger: a.logger,
			})
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("mcp server stopped", slog.String("error", err.Error()))
			}
			// stdin closing ends the session and the process with it.
			stop()
		}

		<-ctx.Done()
		a.logger.Info("shutting down")
		return sched.Stop()
	},
}
