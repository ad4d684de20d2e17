package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfenderov/bam-events/pkg/models"
)

func skipIfNoES(t *testing.T) {
	if os.Getenv("SKIP_ES_TESTS") == "1" {
		t.Skip("Skipping ES tests (SKIP_ES_TESTS=1)")
	}

	// Try to connect to ES
	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "test-skip-check",
	})
	if err != nil {
		t.Skipf("Skipping ES tests: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !client.Ping(ctx) {
		t.Skip("Skipping ES tests: Elasticsearch not available")
	}
}

func TestNew_RequiresIndex(t *testing.T) {
	if _, err := New(Config{Addresses: []string{"http://localhost:9200"}}); err == nil {
		t.Error("New() should fail without an index")
	}
}

func TestBuildSearchQuery(t *testing.T) {
	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	q := buildSearchQuery("jazz", SearchOptions{From: &from})
	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	body := string(data)

	for _, want := range []string{`"query":"jazz"`, `"title^3"`, `"size":10`, `"gte":"2026-07-01T00:00:00Z"`} {
		if !strings.Contains(body, want) {
			t.Errorf("query %s should contain %s", body, want)
		}
	}

	noFilter, _ := json.Marshal(buildSearchQuery("jazz", SearchOptions{Limit: 3}))
	if strings.Contains(string(noFilter), "range") || !strings.Contains(string(noFilter), `"size":3`) {
		t.Errorf("unexpected query %s", noFilter)
	}
}

// fakeES records indexed documents and answers as an Elasticsearch node.
func fakeES(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	var docs sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut || r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			docs.Store(r.URL.Path, string(body))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"result":"created"}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &docs
}

func TestClient_IndexEventUsesEventID(t *testing.T) {
	srv, docs := fakeES(t)
	client, err := New(Config{Addresses: []string{srv.URL}, Index: "events"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ev := models.Event{ID: "ev-1", Title: "Jazz Night", SourceURL: "https://x.com/e/1"}
	if err := client.IndexEvent(context.Background(), ev); err != nil {
		t.Fatalf("IndexEvent() error = %v", err)
	}

	body, ok := docs.Load("/events/_doc/ev-1")
	if !ok {
		t.Fatal("expected document at /events/_doc/ev-1")
	}
	if !strings.Contains(body.(string), `"source_url":"https://x.com/e/1"`) {
		t.Errorf("indexed body = %s", body)
	}
}

func TestClient_Connect(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "bam-events-test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if !client.Ping(ctx) {
		t.Error("Ping() should return true for running ES")
	}
}

func TestClient_CreateIndex(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "bam-events-test-create",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()

	client.DeleteIndex(ctx)

	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}

	// Creating again should not error (idempotent)
	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() second call error = %v", err)
	}

	client.DeleteIndex(ctx)
}

func TestClient_IndexSearchGet(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "bam-events-test-search",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()

	client.DeleteIndex(ctx)
	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}

	july := time.Date(2026, 7, 5, 19, 0, 0, 0, time.UTC)
	events := []models.Event{
		{ID: "ev1", Title: "Jazz Night", Date: &july, Location: "Blue Frog", SourceURL: "https://x.com/e/1"},
		{ID: "ev2", Title: "Poetry Slam", Location: "Library", SourceURL: "https://x.com/e/2"},
		{ID: "ev3", Title: "Open Mic", Description: "Bring your jazz standards", SourceURL: "https://x.com/e/3"},
	}
	for _, ev := range events {
		if err := client.IndexEvent(ctx, ev); err != nil {
			t.Fatalf("IndexEvent() error = %v", err)
		}
	}

	client.Refresh(ctx)

	results, err := client.Search(ctx, "jazz", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Search('jazz') returned %d events, want 2", len(results))
	}
	if len(results) > 0 && results[0].ID != "ev1" {
		t.Errorf("title match should rank first, got %q", results[0].ID)
	}

	got, err := client.GetEvent(ctx, "ev2")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if got == nil || got.Title != "Poetry Slam" {
		t.Errorf("GetEvent() = %+v", got)
	}

	missing, err := client.GetEvent(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetEvent(missing) = %+v, %v", missing, err)
	}

	client.DeleteIndex(ctx)
}
