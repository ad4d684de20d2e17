package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		UserAgent:    "test-agent",
	}
}

func TestScraper_FetchSingleURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Events</title></head><body><h1>Jazz Night</h1></body></html>`))
	}))
	defer server.Close()

	s := New(testConfig())

	doc, err := s.Fetch(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !strings.HasPrefix(doc.URL, server.URL) {
		t.Errorf("URL = %q, want prefix %q", doc.URL, server.URL)
	}
	if !strings.Contains(string(doc.Body), "Jazz Night") {
		t.Error("Body should contain 'Jazz Night'")
	}
	if !strings.HasPrefix(doc.ContentType, "text/html") {
		t.Errorf("ContentType = %q", doc.ContentType)
	}
	if doc.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", doc.StatusCode)
	}
	if doc.FetchedAt.IsZero() {
		t.Error("FetchedAt should not be zero")
	}
}

func TestScraper_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer server.Close()

	s := New(testConfig())

	if _, err := s.Fetch(t.Context(), server.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestScraper_GivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
	}))
	defer server.Close()

	s := New(testConfig())

	_, err := s.Fetch(t.Context(), server.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if !fe.Transient {
		t.Error("500 should be transient")
	}
	if fe.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", fe.StatusCode)
	}
	if fe.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", fe.Attempts, calls.Load())
	}
}

func TestScraper_DoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	s := New(testConfig())

	_, err := s.Fetch(t.Context(), server.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fe.Transient {
		t.Error("404 should be permanent")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestScraper_HonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	s := New(testConfig())

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error for cancelled fetch")
	}
	if time.Since(start) > time.Second {
		t.Errorf("fetch took %v after cancellation", time.Since(start))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestScraper_SetsUserAgent(t *testing.T) {
	var receivedUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>Test</body></html>`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.UserAgent = "bam-events/1.0"
	s := New(cfg)

	if _, err := s.Fetch(t.Context(), server.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if receivedUA != "bam-events/1.0" {
		t.Errorf("User-Agent = %q, want %q", receivedUA, "bam-events/1.0")
	}
}

func TestIsTransientStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		if got := IsTransientStatus(tt.status); got != tt.want {
			t.Errorf("IsTransientStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		base string
		page int
		want string
	}{
		{"https://x.com/events/", 1, "https://x.com/events/"},
		{"https://x.com/events/", 2, "https://x.com/events/?page=2"},
		{"https://x.com/events?city=hyd", 3, "https://x.com/events?city=hyd&page=3"},
		{"https://x.com/events?page=1", 4, "https://x.com/events?page=4"},
	}
	for _, tt := range tests {
		got, err := PageURL(tt.base, tt.page)
		if err != nil {
			t.Fatalf("PageURL(%q, %d) error = %v", tt.base, tt.page, err)
		}
		if got != tt.want {
			t.Errorf("PageURL(%q, %d) = %q, want %q", tt.base, tt.page, got, tt.want)
		}
	}
}

func TestScraper_BodyOverLimitIsPermanentError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("x", 4096) + "</body></html>"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxBodySize = 1024
	s := New(cfg)

	_, err := s.Fetch(t.Context(), server.URL)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %T, want *FetchError", err)
	}
	if fe.Transient {
		t.Error("oversized body should be permanent")
	}
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("error = %v, want ErrBodyTooLarge", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retries)", got)
	}

	cfg.MaxBodySize = 64 << 10
	doc, err := New(cfg).Fetch(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() under limit error = %v", err)
	}
	if !strings.HasSuffix(string(doc.Body), "</body></html>") {
		t.Error("body under the limit should be complete")
	}
}
