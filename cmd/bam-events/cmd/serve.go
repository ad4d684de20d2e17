package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mfenderov/bam-events/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server for event lookup.

The server communicates via stdio and provides these tools:
  - list_events: List stored events, optionally only upcoming ones
  - get_event: Get a specific event by ID
  - search_events: Full-text search (only when Elasticsearch is enabled)

Example:
  bam-events serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var searcher mcp.Searcher
	if cfg.Elasticsearch.Enabled {
		esClient, err := newESClient(cfg)
		if err != nil {
			return err
		}
		if esClient.Ping(ctx) {
			searcher = esClient
		} else {
			slog.Warn("Elasticsearch not reachable, search_events disabled", "addresses", cfg.Elasticsearch.Addresses)
		}
	}

	server, err := mcp.NewServer(mcp.Config{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
	}, st, searcher)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}
