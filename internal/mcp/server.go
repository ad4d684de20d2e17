package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mfenderov/bam-events/internal/elasticsearch"
	"github.com/mfenderov/bam-events/internal/store"
	"github.com/mfenderov/bam-events/pkg/models"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// EventReader is the read side of the event store.
type EventReader interface {
	ListAll(ctx context.Context) ([]models.Event, error)
	Get(ctx context.Context, id string) (models.Event, error)
}

// Searcher runs full-text event searches.
type Searcher interface {
	Search(ctx context.Context, query string, opts elasticsearch.SearchOptions) ([]models.Event, error)
}

// Server exposes stored events as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	events    EventReader
	searcher  Searcher // nil when no search index is configured
	now       func() time.Time
}

// NewServer creates a new MCP server. search_events is only registered when
// searcher is non-nil.
func NewServer(config Config, events EventReader, searcher Searcher) (*Server, error) {
	if events == nil {
		return nil, fmt.Errorf("event reader is required")
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		events:    events,
		searcher:  searcher,
		now:       time.Now,
	}

	listTool := mcp.NewTool("list_events",
		mcp.WithDescription("List stored events ordered by date. Undated events come last."),
		mcp.WithBoolean("upcoming",
			mcp.Description("Only include events dated today or later (undated events are kept)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events to return (default: all)"),
		),
	)
	mcpServer.AddTool(listTool, s.listHandler)

	getTool := mcp.NewTool("get_event",
		mcp.WithDescription("Get a stored event by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Event ID to retrieve"),
		),
	)
	mcpServer.AddTool(getTool, s.getEventHandler)

	if searcher != nil {
		searchTool := mcp.NewTool("search_events",
			mcp.WithDescription("Full-text search over event titles, descriptions, locations and organizers."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query string"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results to return (default: 10)"),
			),
		)
		mcpServer.AddTool(searchTool, s.searchHandler)
	}

	return s, nil
}

func (s *Server) listHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := s.handleList(ctx, req.GetBool("upcoming", false), req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list events failed: %v", err)), nil
	}
	return jsonResult(events)
}

func (s *Server) getEventHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	ev, err := s.events.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("event not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get event failed: %v", err)), nil
	}
	return jsonResult(ev)
}

func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	events, err := s.searcher.Search(ctx, query, elasticsearch.SearchOptions{Limit: req.GetInt("limit", 10)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(events)
}

// handleList returns stored events, optionally dropping those dated before
// today.
func (s *Server) handleList(ctx context.Context, upcoming bool, limit int) ([]models.Event, error) {
	events, err := s.events.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if upcoming {
		now := s.now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		kept := events[:0]
		for _, ev := range events {
			if ev.Date == nil || !ev.Date.Before(today) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
