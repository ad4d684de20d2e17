package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mfenderov/bam-events/internal/storage"
	"github.com/spf13/cobra"
)

var archivePrefix string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Show an archived scrape run",
	Long: `Show the summary and raw documents of a scrape run archived in S3.

Example:
  bam-events archive --prefix runs/2026-07-05T20-00-00-3f2a9c1e`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVar(&archivePrefix, "prefix", "", "S3 prefix of the run (required)")
	archiveCmd.MarkFlagRequired("prefix")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if cfg.Storage.Endpoint == "" {
		return fmt.Errorf("storage not configured - check config file")
	}

	storageClient, err := storage.New(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	summary, err := storageClient.GetSummary(ctx, archivePrefix)
	if err != nil {
		return err
	}
	keys, err := storageClient.ListDocuments(ctx, archivePrefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, summary.String())
	fmt.Fprintf(out, "\n%d raw documents in s3://%s/%s\n", len(keys), storageClient.Bucket(), archivePrefix)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s\n", k)
	}
	return nil
}
