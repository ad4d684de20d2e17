package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mfenderov/bam-events/internal/ingestion"
	"github.com/spf13/cobra"
)

var reindexRecreate bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the Elasticsearch index from the event store",
	Long: `Index every stored event into Elasticsearch.

Use this command after enabling search on an existing store, or when the
index has drifted from the store.

Examples:
  # Index all stored events
  bam-events reindex

  # Drop and rebuild the index
  bam-events reindex --recreate`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)

	reindexCmd.Flags().BoolVar(&reindexRecreate, "recreate", false, "Delete the index before rebuilding it")
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	slog.Debug("reindex command starting", "recreate", reindexRecreate)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	esClient, err := newESClient(cfg)
	if err != nil {
		return err
	}

	result, err := ingestion.New(st, esClient).Reindex(ctx, reindexRecreate)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d events in %v\n", result.EventsIndexed, result.Duration)
	for _, e := range result.Errors {
		fmt.Fprintf(cmd.OutOrStdout(), "  Warning: %s\n", e)
	}
	return nil
}
