package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/mfenderov/bam-events/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// Client wraps the Elasticsearch client with event index operations.
type Client struct {
	es    *elasticsearch.Client
	index string
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index is required")
	}
	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Client{
		es:    es,
		index: config.Index,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// indexMapping defines the ES index mapping for events. source_url is a
// keyword so exact lookups by dedup key work.
var indexMapping = `{
	"mappings": {
		"properties": {
			"id": { "type": "keyword" },
			"title": { "type": "text", "fields": { "raw": { "type": "keyword", "ignore_above": 500 } } },
			"date_text": { "type": "text" },
			"date": { "type": "date" },
			"location": { "type": "text" },
			"organizer": { "type": "text" },
			"description": { "type": "text", "analyzer": "english" },
			"price": { "type": "keyword" },
			"source_url": { "type": "keyword" },
			"scraped_at": { "type": "date" },
			"created_at": { "type": "date" },
			"updated_at": { "type": "date" }
		}
	}
}`

// CreateIndex creates the index with proper mapping.
func (c *Client) CreateIndex(ctx context.Context) error {
	// Check if index exists
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// DeleteIndex removes the index (for testing/cleanup).
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// IndexEvent indexes a single event under its ID, replacing any earlier
// version.
func (c *Client) IndexEvent(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	res, err := c.es.Index(
		c.index,
		bytes.NewReader(data),
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(ev.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing event (status %d): %s", res.StatusCode, res.String())
	}

	return nil
}

// Refresh forces an index refresh (useful for testing).
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// searchResponse represents ES search response structure.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Limit int
	From  *time.Time // only events dated on or after From
}

// buildSearchQuery returns the query body for a BM25 search over the text
// fields of an event, title boosted.
func buildSearchQuery(query string, opts SearchOptions) map[string]any {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	must := []any{
		map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^3", "description", "location^2", "organizer^2", "date_text"},
			},
		},
	}
	boolQuery := map[string]any{"must": must}
	if opts.From != nil {
		boolQuery["filter"] = []any{
			map[string]any{
				"range": map[string]any{
					"date": map[string]any{"gte": opts.From.UTC().Format(time.RFC3339)},
				},
			},
		}
	}
	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  opts.Limit,
	}
}

// Search performs a text search over indexed events.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]models.Event, error) {
	data, err := json.Marshal(buildSearchQuery(query, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	events := make([]models.Event, len(sr.Hits.Hits))
	for i, hit := range sr.Hits.Hits {
		events[i] = hit.Source
	}

	return events, nil
}

// getResponse represents ES get response structure.
type getResponse struct {
	Found  bool         `json:"found"`
	Source models.Event `json:"_source"`
}

// GetEvent retrieves an event by ID. It returns nil when the event is not
// indexed.
func (c *Client) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	res, err := c.es.Get(
		c.index,
		id,
		c.es.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}

	if res.IsError() {
		return nil, fmt.Errorf("get error: %s", res.String())
	}

	var gr getResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !gr.Found {
		return nil, nil
	}

	return &gr.Source, nil
}
