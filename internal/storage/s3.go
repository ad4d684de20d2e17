package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mfenderov/bam-events/internal/report"
	"github.com/mfenderov/bam-events/internal/scraper"
)

// Config holds S3/MinIO client configuration.
type Config struct {
	Endpoint        string // "localhost:9000" for MinIO
	Bucket          string // "bam-events"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Client archives raw fetched documents and run summaries in S3/MinIO.
type Client struct {
	minioClient *minio.Client
	bucket      string
}

// New creates a new S3/MinIO client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	err = c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// RunPrefix returns the object prefix for one run,
// e.g. "runs/2026-07-01T12-00-00-3f2a...".
func RunPrefix(runID string, startedAt time.Time) string {
	return path.Join("runs", startedAt.UTC().Format("2006-01-02T15-04-05")+"-"+runID)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// DocumentKey returns the object name for a fetched document. The name is
// stable for a URL so refetches within a run overwrite.
func DocumentKey(prefix, sourceName string, doc *scraper.Document) string {
	sum := sha1.Sum([]byte(doc.URL))
	name := hex.EncodeToString(sum[:8]) + extension(doc.ContentType)
	src := strings.Trim(unsafeChars.ReplaceAllString(sourceName, "_"), "_")
	if src == "" {
		src = "source"
	}
	return path.Join(prefix, "raw", src, name)
}

func extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return ".html"
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return ".json"
	case strings.HasPrefix(mediaType, "text/"):
		return ".txt"
	}
	return ".bin"
}

// PutDocument writes a raw fetched document under the run prefix. The
// source URL and fetch time are stored as object metadata.
func (c *Client) PutDocument(ctx context.Context, prefix, sourceName string, doc *scraper.Document) error {
	objectName := DocumentKey(prefix, sourceName, doc)
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.minioClient.PutObject(ctx, c.bucket, objectName, bytes.NewReader(doc.Body), int64(len(doc.Body)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"Source-Url": doc.URL,
			"Fetched-At": doc.FetchedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

// PutSummary writes the run summary JSON to S3.
func (c *Client) PutSummary(ctx context.Context, prefix string, summary report.RunSummary) error {
	objectName := path.Join(prefix, "summary.json")

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	reader := bytes.NewReader(data)
	_, err = c.minioClient.PutObject(ctx, c.bucket, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put summary: %w", err)
	}
	return nil
}

// ListDocuments returns the object names of all raw documents under a prefix.
func (c *Client) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	rawPrefix := path.Join(prefix, "raw") + "/"
	var keys []string

	objectCh := c.minioClient.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    rawPrefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		keys = append(keys, object.Key)
	}

	return keys, nil
}

// GetSummary reads a run summary from S3.
func (c *Client) GetSummary(ctx context.Context, prefix string) (*report.RunSummary, error) {
	objectName := path.Join(prefix, "summary.json")

	object, err := c.minioClient.GetObject(ctx, c.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}

	var summary report.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}

	return &summary, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
