package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfenderov/bam-events/internal/elasticsearch"
	"github.com/spf13/cobra"
)

var (
	searchLimit    int
	searchFormat   string
	searchUpcoming bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed events",
	Long: `Search events indexed in Elasticsearch by title, description,
location and organizer.

Examples:
  # Basic search
  bam-events search "jazz"

  # Limit results to upcoming events
  bam-events search "poetry" --upcoming --limit 5

  # JSON output for scripting
  bam-events search "market" --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text, json or yaml")
	searchCmd.Flags().BoolVar(&searchUpcoming, "upcoming", false, "Only events dated from now on")
}

func runSearch(cmd *cobra.Command, args []string) error {
	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	query := args[0]
	cfg := GetConfig()

	esClient, err := newESClient(cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	opts := elasticsearch.SearchOptions{Limit: searchLimit}
	if searchUpcoming {
		opts.From = &now
	}

	events, err := esClient.Search(ctx, query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(events) == 0 && searchFormat == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
		return nil
	}
	return writeEvents(cmd.OutOrStdout(), events, searchFormat, now)
}
