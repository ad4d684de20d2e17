package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mfenderov/bam-events/internal/report"
	"github.com/mfenderov/bam-events/internal/scraper"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty endpoint",
			config:  Config{Endpoint: "", Bucket: "test"},
			wantErr: true,
		},
		{
			name:    "empty bucket",
			config:  Config{Endpoint: "localhost:9000", Bucket: ""},
			wantErr: true,
		},
		{
			name: "valid config",
			config: Config{
				Endpoint:        "localhost:9000",
				Bucket:          "test",
				AccessKeyID:     "minioadmin",
				SecretAccessKey: "minioadmin",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunPrefix(t *testing.T) {
	got := RunPrefix("abc123", time.Date(2026, 7, 1, 12, 30, 5, 0, time.UTC))
	if got != "runs/2026-07-01T12-30-05-abc123" {
		t.Errorf("RunPrefix() = %q", got)
	}
}

func TestDocumentKey(t *testing.T) {
	doc := &scraper.Document{URL: "https://x.com/events?page=2", ContentType: "text/html; charset=utf-8"}

	key := DocumentKey("runs/r1", "Example Site!", doc)
	if !strings.HasPrefix(key, "runs/r1/raw/Example_Site/") {
		t.Errorf("DocumentKey() = %q, want sanitized source dir", key)
	}
	if !strings.HasSuffix(key, ".html") {
		t.Errorf("DocumentKey() = %q, want .html extension", key)
	}
	if again := DocumentKey("runs/r1", "Example Site!", doc); again != key {
		t.Errorf("DocumentKey() not stable: %q vs %q", key, again)
	}

	other := DocumentKey("runs/r1", "Example Site!", &scraper.Document{URL: "https://x.com/events?page=3", ContentType: "application/ld+json"})
	if other == key || !strings.HasSuffix(other, ".json") {
		t.Errorf("DocumentKey() = %q for a different URL", other)
	}
}

// TestIntegration_Archive tests actual S3 operations against MinIO.
// Skip if MinIO is not running.
func TestIntegration_Archive(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	client, err := New(Config{
		Endpoint:        endpoint,
		Bucket:          "bam-events-test",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UseSSL:          false,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to ensure bucket - skip if MinIO is not available
	if err := client.EnsureBucket(ctx); err != nil {
		t.Skipf("MinIO not available, skipping integration test: %v", err)
	}

	prefix := RunPrefix("test123", time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))

	t.Run("PutDocument", func(t *testing.T) {
		doc := &scraper.Document{
			URL:         "https://test.example.com/events",
			Body:        []byte("<html><body>events</body></html>"),
			ContentType: "text/html",
			FetchedAt:   time.Now(),
		}
		if err := client.PutDocument(ctx, prefix, "test", doc); err != nil {
			t.Fatalf("PutDocument() error = %v", err)
		}
	})

	t.Run("ListDocuments", func(t *testing.T) {
		keys, err := client.ListDocuments(ctx, prefix)
		if err != nil {
			t.Fatalf("ListDocuments() error = %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("ListDocuments() returned %d keys, want 1", len(keys))
		}
	})

	t.Run("PutGetSummary", func(t *testing.T) {
		summary := report.RunSummary{
			RunID:   "test123",
			State:   report.StateIdle,
			Sources: []report.SourceReport{{Source: "test", State: report.StateDone, Fetched: 1, Inserted: 2}},
			Totals:  report.Totals{Sources: 1, Fetched: 1, Inserted: 2},
		}
		if err := client.PutSummary(ctx, prefix, summary); err != nil {
			t.Fatalf("PutSummary() error = %v", err)
		}
		got, err := client.GetSummary(ctx, prefix)
		if err != nil {
			t.Fatalf("GetSummary() error = %v", err)
		}
		if got.RunID != "test123" || got.Totals.Inserted != 2 {
			t.Errorf("GetSummary() = %+v", got)
		}
	})
}
