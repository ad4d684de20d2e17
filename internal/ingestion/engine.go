// Package ingestion rebuilds the search index from the event store.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfenderov/bam-events/pkg/models"
)

// EventLister is the read side of the event store.
type EventLister interface {
	ListAll(ctx context.Context) ([]models.Event, error)
}

// Index is the search index being rebuilt.
type Index interface {
	CreateIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
	IndexEvent(ctx context.Context, ev models.Event) error
	Refresh(ctx context.Context) error
}

// Result holds reindex execution results.
type Result struct {
	EventsIndexed int
	Duration      time.Duration
	Errors        []string
}

// Engine copies stored events into the search index. The store is the
// source of truth; the index can always be rebuilt from it.
type Engine struct {
	events EventLister
	index  Index
}

// New creates a new reindex engine.
func New(events EventLister, index Index) *Engine {
	return &Engine{events: events, index: index}
}

// Reindex indexes every stored event. With recreate the index is dropped
// first so events deleted from the store disappear from search too.
func (e *Engine) Reindex(ctx context.Context, recreate bool) (*Result, error) {
	start := time.Now()
	result := &Result{}

	slog.Info("starting reindex", "recreate", recreate)

	if recreate {
		if err := e.index.DeleteIndex(ctx); err != nil {
			return nil, fmt.Errorf("failed to delete index: %w", err)
		}
	}
	if err := e.index.CreateIndex(ctx); err != nil {
		return nil, err
	}

	events, err := e.events.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	slog.Info("found events to index", "count", len(events))

	for _, ev := range events {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "context cancelled")
			break
		}
		if err := e.index.IndexEvent(ctx, ev); err != nil {
			slog.Error("failed to index event", "id", ev.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ev.SourceURL, err))
			continue
		}
		result.EventsIndexed++
	}

	// Refresh index to make events searchable immediately
	if err := e.index.Refresh(ctx); err != nil {
		slog.Warn("failed to refresh index", "error", err)
	}

	result.Duration = time.Since(start)
	slog.Info("reindex complete",
		"events_indexed", result.EventsIndexed,
		"duration", result.Duration,
		"errors", len(result.Errors))

	return result, nil
}
