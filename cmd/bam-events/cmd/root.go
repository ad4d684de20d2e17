package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mfenderov/bam-events/internal/config"
	"github.com/mfenderov/bam-events/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbose   bool
	cfg       config.Config
	logCloser io.Closer
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "bam-events",
	Short: "BAM-Events: an event scraping and ingestion tool",
	Long: `BAM-Events scrapes event listings from configured sources, normalizes
them, and upserts them into an event store keyed by source URL.

Commands:
  scrape   Run the ingestion pipeline over configured sources
  list     Print stored events
  search   Search indexed events in Elasticsearch
  serve    Start the MCP server for event lookup
  sources  Show configured sources`,
	SilenceUsage: true,
}

func Execute() error {
	defer func() {
		if logCloser != nil {
			logCloser.Close()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	logger, closer, err := logging.New(logging.Options{
		Verbose:    verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		slog.Warn("failed to open log file, logging to stderr only", "file", cfg.Log.File, "error", err)
		logger, closer, _ = logging.New(logging.Options{Verbose: verbose})
	}
	logCloser = closer
	slog.SetDefault(logger)
}

func initConfig() {
	// Start with defaults
	cfg = config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/bam-events")
		viper.AddConfigPath(".")
	}

	// Environment variable overrides
	// BAMEVENTS_DATABASE_PATH -> database.path
	viper.SetEnvPrefix("BAMEVENTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind nested env vars
	viper.BindEnv("database.driver", "BAMEVENTS_DATABASE_DRIVER")
	viper.BindEnv("database.path", "BAMEVENTS_DATABASE_PATH")
	viper.BindEnv("database.dsn", "BAMEVENTS_DATABASE_DSN")
	viper.BindEnv("scraper.timeout", "BAMEVENTS_SCRAPER_TIMEOUT")
	viper.BindEnv("scraper.source_timeout", "BAMEVENTS_SCRAPER_SOURCE_TIMEOUT")
	viper.BindEnv("scraper.max_retries", "BAMEVENTS_SCRAPER_MAX_RETRIES")
	viper.BindEnv("scraper.concurrency", "BAMEVENTS_SCRAPER_CONCURRENCY")
	viper.BindEnv("scraper.delay", "BAMEVENTS_SCRAPER_DELAY")
	viper.BindEnv("scraper.max_body_size", "BAMEVENTS_SCRAPER_MAX_BODY_SIZE")
	viper.BindEnv("storage.endpoint", "BAMEVENTS_STORAGE_ENDPOINT")
	viper.BindEnv("storage.bucket", "BAMEVENTS_STORAGE_BUCKET")
	viper.BindEnv("storage.access_key_id", "BAMEVENTS_STORAGE_ACCESS_KEY_ID")
	viper.BindEnv("storage.secret_access_key", "BAMEVENTS_STORAGE_SECRET_ACCESS_KEY")
	viper.BindEnv("elasticsearch.enabled", "BAMEVENTS_ELASTICSEARCH_ENABLED")
	viper.BindEnv("elasticsearch.addresses", "BAMEVENTS_ELASTICSEARCH_ADDRESSES")
	viper.BindEnv("elasticsearch.index", "BAMEVENTS_ELASTICSEARCH_INDEX")
	viper.BindEnv("elasticsearch.username", "BAMEVENTS_ELASTICSEARCH_USERNAME")
	viper.BindEnv("elasticsearch.password", "BAMEVENTS_ELASTICSEARCH_PASSWORD")
	viper.BindEnv("log.file", "BAMEVENTS_LOG_FILE")
	viper.BindEnv("metrics.textfile_path", "BAMEVENTS_METRICS_TEXTFILE_PATH")
	viper.BindEnv("telemetry.otlp_endpoint", "BAMEVENTS_TELEMETRY_OTLP_ENDPOINT")
	viper.BindEnv("mcp.name", "BAMEVENTS_MCP_NAME")
	viper.BindEnv("mcp.version", "BAMEVENTS_MCP_VERSION")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
		// No config file - use defaults + env vars
	}

	// Unmarshal into struct (merges config file with defaults)
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	// Handle special case: addresses as comma-separated string from env
	if addrs := os.Getenv("BAMEVENTS_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
}
