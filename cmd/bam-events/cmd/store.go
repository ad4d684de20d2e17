package cmd

import (
	"context"
	"fmt"

	"github.com/mfenderov/bam-events/internal/config"
	"github.com/mfenderov/bam-events/internal/elasticsearch"
	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/internal/store/postgres"
	"github.com/mfenderov/bam-events/internal/store/sqlite"
)

// openStore opens the configured event store backend.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Database.DSN, cfg.Scraper.Concurrency+1)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func newESClient(cfg config.Config) (*elasticsearch.Client, error) {
	client, err := elasticsearch.New(elasticsearch.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Index:     cfg.Elasticsearch.Index,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}
	return client, nil
}
