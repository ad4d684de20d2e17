package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mfenderov/bam-events/internal/config"
	"github.com/mfenderov/bam-events/internal/metrics"
	"github.com/mfenderov/bam-events/internal/pipeline"
	"github.com/mfenderov/bam-events/internal/source"
	"github.com/mfenderov/bam-events/internal/storage"
	"github.com/mfenderov/bam-events/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	scrapeURL    string
	scrapeSource string
	scrapeKind   string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape events into the store",
	Long: `Scrape events from configured sources or a specific URL and upsert them
into the event store. Re-running over unchanged pages leaves the store as is.

Examples:
  # Scrape all enabled sources
  bam-events scrape

  # Scrape a specific source by name
  bam-events scrape --source city-hall

  # Scrape a specific URL directly
  bam-events scrape --url https://example.com/events --kind jsonld`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVar(&scrapeURL, "url", "", "URL to scrape directly")
	scrapeCmd.Flags().StringVar(&scrapeSource, "source", "", "Source name from config to scrape")
	scrapeCmd.Flags().StringVar(&scrapeKind, "kind", string(source.KindHTML), "Extractor for --url: html, html-event or jsonld")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	slog.Debug("scrape command starting", "verbose", verbose, "driver", cfg.Database.Driver)

	sources, err := selectSources(cfg, scrapeURL, scrapeSource, scrapeKind)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer shutdown(context.WithoutCancel(ctx))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	opts := []pipeline.Option{pipeline.WithMetrics(m)}

	// Optional sinks: archive raw documents, index events for search
	if cfg.Storage.Endpoint != "" {
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
		if err := storageClient.EnsureBucket(ctx); err != nil {
			slog.Warn("raw archive disabled", "bucket", cfg.Storage.Bucket, "error", err)
		} else {
			opts = append(opts, pipeline.WithArchive(storageClient, storage.RunPrefix))
		}
	}
	if cfg.Elasticsearch.Enabled {
		esClient, err := newESClient(cfg)
		if err != nil {
			return err
		}
		if err := esClient.CreateIndex(ctx); err != nil {
			slog.Warn("search indexing disabled", "index", cfg.Elasticsearch.Index, "error", err)
		} else {
			opts = append(opts, pipeline.WithIndexer(esClient))
		}
	}

	p, err := pipeline.New(pipeline.Config{
		Timeout:       cfg.Scraper.Timeout,
		MaxRetries:    cfg.Scraper.MaxRetries,
		RetryBackoff:  cfg.Scraper.RetryBackoff,
		Delay:         cfg.Scraper.Delay,
		UserAgent:     cfg.Scraper.UserAgent,
		MaxBodySize:   cfg.Scraper.MaxBodySize,
		Concurrency:   cfg.Scraper.Concurrency,
		SourceTimeout: cfg.Scraper.SourceTimeout,
	}, st, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	summary, runErr := p.Run(ctx, sources)
	fmt.Fprint(cmd.OutOrStdout(), summary.String())
	for _, sr := range summary.Sources {
		for _, e := range sr.Errors {
			slog.Info("source error", "source", sr.Source, "error", e)
		}
	}

	if cfg.Metrics.TextfilePath != "" {
		if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			slog.Warn("failed to write metrics", "path", cfg.Metrics.TextfilePath, "error", err)
		}
	}

	return runErr
}

// selectSources resolves the command line to the sources to run.
func selectSources(cfg config.Config, rawURL, name, kind string) ([]source.Source, error) {
	if rawURL != "" {
		src, err := source.Adhoc(rawURL, source.Kind(kind))
		if err != nil {
			return nil, err
		}
		return []source.Source{src}, nil
	}

	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("no sources configured and no --url provided")
	}
	registry, err := source.NewRegistry(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("invalid sources: %w", err)
	}

	if name != "" {
		src, ok := registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("source %q not found in config", name)
		}
		if !src.Enabled {
			return nil, fmt.Errorf("source %q is disabled in config", name)
		}
		return []source.Source{src}, nil
	}

	enabled := registry.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("all %d configured sources are disabled", registry.Len())
	}
	return enabled, nil
}
