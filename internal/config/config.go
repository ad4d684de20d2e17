package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database      Database      `mapstructure:"database"`
	Scraper       Scraper       `mapstructure:"scraper"`
	Storage       Storage       `mapstructure:"storage"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	MCP           MCP           `mapstructure:"mcp"`
	Log           Log           `mapstructure:"log"`
	Metrics       Metrics       `mapstructure:"metrics"`
	Telemetry     Telemetry     `mapstructure:"telemetry"`
	Sources       []Source      `mapstructure:"sources"`
}

// Database selects and configures the event store backend.
type Database struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`   // SQLite file path
	DSN    string `mapstructure:"dsn"`    // Postgres connection string
}

// Scraper holds fetch and run configuration.
type Scraper struct {
	Timeout       time.Duration `mapstructure:"timeout"`        // per request
	SourceTimeout time.Duration `mapstructure:"source_timeout"` // per source sub-run
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	Concurrency   int           `mapstructure:"concurrency"`
	Delay         time.Duration `mapstructure:"delay"` // between requests to one domain
	UserAgent     string        `mapstructure:"user_agent"`
	MaxBodySize   int           `mapstructure:"max_body_size"` // bytes; larger documents fail to fetch
}

// Storage holds S3/MinIO raw archive configuration. Empty endpoint disables it.
type Storage struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Elasticsearch holds search index configuration.
type Elasticsearch struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Log configures the optional rotated log file. Stderr logging is always on.
type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Metrics configures the Prometheus textfile written after each run.
type Metrics struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// Telemetry configures OTLP trace export. Empty endpoint disables tracing.
type Telemetry struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Source defines an event source to scrape.
type Source struct {
	Name          string    `mapstructure:"name"`
	URL           string    `mapstructure:"url"`
	Kind          string    `mapstructure:"kind"`
	Enabled       *bool     `mapstructure:"enabled"` // nil means enabled
	MaxPages      int       `mapstructure:"max_pages"`
	FollowDetails bool      `mapstructure:"follow_details"`
	LinkContains  string    `mapstructure:"link_contains"`
	KeepQuery     []string  `mapstructure:"keep_query"`
	Selectors     Selectors `mapstructure:"selectors"`
}

// Selectors overrides the default CSS selector lists for HTML sources.
// Each list is tried in order; the first selector with a non-empty match wins.
type Selectors struct {
	Card        []string `mapstructure:"card"`
	Title       []string `mapstructure:"title"`
	Date        []string `mapstructure:"date"`
	Location    []string `mapstructure:"location"`
	Description []string `mapstructure:"description"`
	Organizer   []string `mapstructure:"organizer"`
	Price       []string `mapstructure:"price"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Database: Database{
			Driver: "sqlite",
			Path:   "./data/events.db",
		},
		Scraper: Scraper{
			Timeout:       15 * time.Second,
			SourceTimeout: 5 * time.Minute,
			MaxRetries:    2,
			RetryBackoff:  1 * time.Second,
			Concurrency:   4,
			Delay:         1500 * time.Millisecond,
			UserAgent:     "bam-events/1.0",
			MaxBodySize:   10 << 20,
		},
		Storage: Storage{
			Endpoint: "", // archive disabled unless configured
			Bucket:   "bam-events",
		},
		Elasticsearch: Elasticsearch{
			Enabled:   false,
			Addresses: []string{"http://localhost:9200"},
			Index:     "bam-events",
		},
		MCP: MCP{
			Name:    "bam-events",
			Version: "1.0.0",
		},
		Log: Log{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			ServiceName: "bam-events",
		},
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be positive, got %d", c.Scraper.Concurrency)
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("scraper.max_retries must not be negative, got %d", c.Scraper.MaxRetries)
	}
	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("scraper.timeout must be positive")
	}
	if c.Scraper.MaxBodySize <= 0 {
		return fmt.Errorf("scraper.max_body_size must be positive, got %d", c.Scraper.MaxBodySize)
	}
	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch.addresses is required when elasticsearch is enabled")
	}
	return nil
}

// IsEnabled reports whether the source should run. Sources are enabled
// unless explicitly disabled.
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
