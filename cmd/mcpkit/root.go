package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpkit",
	Short: "MCP protocol server",
	Long: `Mcpkit is a Model Context Protocol (MCP) server engine.

It accepts JSON-RPC 2.0 over HTTP, WebSocket, and legacy SSE transports
and dispatches requests to a registry of namespaced tool modules with
concurrency limits, timeouts, and cancellation.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
