package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchme/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var noLLM bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout so assistants
can search the index. Exposed tools: search, ask and index_status.

Stdout carries only protocol messages; diagnostics go to the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(".")
			if err != nil {
				return err
			}
			r, err := openReader(ctx, cfg, !noLLM)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			go flushMetrics(ctx, r, time.Minute)

			srv, err := mcp.NewServer(r.engine, r.stores.Metadata, r.stores.Vectors, r.embedder)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "Answer the ask tool with matching files only")
	return cmd
}

// flushMetrics persists query telemetry periodically while a long-lived
// server runs.
func flushMetrics(ctx context.Context, r *reader, every time.Duration) {
	if r.metrics == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.metrics.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		}
	}
}
