package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	ttmcp "github.com/valter-silva-au/tasktrack/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the tasktrack MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tasktrack MCP server on stdio",
	Long: `Start the tasktrack MCP server on stdio transport.

The server acts as the configured session user and exposes the lifecycle
engine as MCP tools: get_task, resolve_capabilities, request_transition,
submit_reason, cancel_reason, edit_task, list_tasks, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if API == nil {
			return fmt.Errorf("task API not initialized")
		}

		srv := ttmcp.NewServer(API, ttmcp.Options{
			Principal: Principal,
			Logger:    Logger,
			Events:    Events,
			Metrics:   MetricsCalc,
			Alerts:    AlertEngine,
			Version:   appVersion,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
