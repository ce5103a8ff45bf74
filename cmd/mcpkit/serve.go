package main

import (
	"context"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/internal/server"
	"github.com/mcpkit/mcpkit/pkg/config"
	"github.com/mcpkit/mcpkit/pkg/logging"
	"github.com/mcpkit/mcpkit/pkg/output"
	"github.com/mcpkit/mcpkit/pkg/tools/echo"
)

var serveWatch bool

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "restart on config file changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "Start the MCP server",
	Long:  "Starts the server with the given config, serving all three transports on one listener.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), args[0])
	},
}

func runServe(ctx context.Context, configPath string) error {
	printer := output.New()
	printer.Banner(version)

	for {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger := logging.NewStructuredLogger(logging.Config{
			Level:      logging.ParseLevel(cfg.Logging.Level),
			Format:     logging.ParseFormat(cfg.Logging.Format),
			File:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Redact:     cfg.Logging.Redact,
			Component:  "server",
		})

		srv, err := server.New(ctx, cfg, logger, server.WithModules(echo.New()))
		if err != nil {
			return err
		}

		printEndpoints(printer, cfg)

		runCtx, cancel := context.WithCancel(ctx)
		var restarting atomic.Bool
		if serveWatch {
			watcher := config.NewWatcher(configPath, func() error {
				// A broken edit keeps the current config serving.
				if _, err := config.Load(configPath); err != nil {
					return err
				}
				restarting.Store(true)
				cancel()
				return nil
			})
			watcher.SetLogger(logger)
			go func() { _ = watcher.Watch(runCtx) }()
		}

		err = srv.Run(runCtx)
		cancel()
		if err != nil || !restarting.Load() {
			return err
		}
		printer.Info("configuration changed, restarting")
	}
}

func printEndpoints(printer *output.Printer, cfg *config.Config) {
	endpoints := []output.EndpointSummary{
		{Path: cfg.Paths.RPC, Transport: "http", Purpose: "Single-shot JSON-RPC"},
		{Path: cfg.Paths.WS, Transport: "ws", Purpose: "Bidirectional JSON-RPC"},
		{Path: cfg.Paths.SSE, Transport: "sse", Purpose: "Event stream"},
		{Path: cfg.Paths.Messages, Transport: "sse", Purpose: "Stream-bound JSON-RPC"},
		{Path: "/health", Transport: "ops", Purpose: "Liveness"},
	}
	if cfg.Telemetry.MetricsEnabled {
		endpoints = append(endpoints, output.EndpointSummary{Path: "/metrics", Transport: "ops", Purpose: "Prometheus metrics"})
	}
	printer.Endpoints(endpoints)
	printer.Print("Listening on %s. Press Ctrl+C to stop.\n\n", cfg.Listen)
}
