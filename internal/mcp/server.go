package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/0x5457/fn-index/internal/indexer"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/search"
)

const (
	ServerName    = "fn-index/mcp"
	ServerVersion = "0.1.0"

	StatusReady    = "ready"
	StatusIndexing = "indexing"
)

// Server exposes an indexer as MCP tools.
type Server struct {
	indexer   indexer.Indexer
	workspace string
	logger    *slog.Logger
}

// SearchResult is the structured payload of search_functions.
type SearchResult struct {
	Status string             `json:"status"`
	Hits   []models.SearchHit `json:"hits"`
}

type AckResult struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// New returns an MCP server exposing the function index tools.
func New(idx indexer.Indexer, workspace string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		indexer:   idx,
		workspace: workspace,
		logger:    logger.With(slog.String("component", "mcp")),
	}
	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
	)

	s.AddTool(newSearchFunctionsTool(), srv.handleSearch)
	s.AddTool(newIndexStatusTool(), srv.handleStatus)

	// commands
	s.AddTool(newReindexTool(), srv.handleReindex)
	s.AddTool(newClearIndexTool(), srv.handleClear)
	s.AddTool(newFlushIndexTool(), srv.handleFlush)

	// editor notifications
	s.AddTool(newSetActiveFileTool(), srv.handleSetActiveFile)
	s.AddTool(newMarkAccessedTool(), srv.handleMarkAccessed)

	return s
}

// Tool definitions
func newSearchFunctionsTool() mcp.Tool {
	return mcp.NewTool(
		"search_functions",
		mcp.WithDescription("Fuzzy search function names; query characters must appear in order"),
		mcp.WithString("query", mcp.Description("Subsequence query, empty lists everything"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Max results, 0 uses the server default"), mcp.DefaultNumber(0)),
	)
}

func newIndexStatusTool() mcp.Tool {
	return mcp.NewTool(
		"index_status",
		mcp.WithDescription("Show readiness and outstanding work of the indexer"),
	)
}

func newReindexTool() mcp.Tool {
	return mcp.NewTool(
		"reindex",
		mcp.WithDescription("Rescan the whole workspace ignoring recorded modification times"),
	)
}

func newClearIndexTool() mcp.Tool {
	return mcp.NewTool(
		"clear_index",
		mcp.WithDescription("Drop all cached and persisted index data, then reindex"),
	)
}

func newFlushIndexTool() mcp.Tool {
	return mcp.NewTool(
		"flush_index",
		mcp.WithDescription("Write pending index changes to the store now"),
	)
}

func newSetActiveFileTool() mcp.Tool {
	return mcp.NewTool(
		"set_active_file",
		mcp.WithDescription("Report the file open in the editor; its language ranks first in searches"),
		mcp.WithString("path", mcp.Description("File path, absolute or workspace relative"), mcp.Required()),
	)
}

func newMarkAccessedTool() mcp.Tool {
	return mcp.NewTool(
		"mark_accessed",
		mcp.WithDescription("Record that a search result in this file was opened"),
		mcp.WithString("path", mcp.Description("File path, absolute or workspace relative"), mcp.Required()),
	)
}

// Handlers
func (srv *Server) handleSearch(
	ctx context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if srv.indexer == nil {
		return mcp.NewToolResultError("indexer not initialized"), nil
	}

	hits, err := srv.indexer.Search(ctx, query)
	switch {
	case errors.Is(err, search.ErrStillIndexing):
		return mcp.NewToolResultStructuredOnly(SearchResult{Status: StatusIndexing, Hits: []models.SearchHit{}}), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	if limit := req.GetInt("limit", 0); limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []models.SearchHit{}
	}
	return mcp.NewToolResultStructuredOnly(SearchResult{Status: StatusReady, Hits: hits}), nil
}

func (srv *Server) handleStatus(
	_ context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	if srv.indexer == nil {
		return mcp.NewToolResultError("indexer not initialized"), nil
	}
	return mcp.NewToolResultStructuredOnly(srv.indexer.Status()), nil
}

func (srv *Server) handleReindex(
	ctx context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return srv.command(ctx, "reindex", func(ctx context.Context) error { return srv.indexer.Reindex(ctx) })
}

func (srv *Server) handleClear(
	ctx context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return srv.command(ctx, "clear", func(ctx context.Context) error { return srv.indexer.ClearAll(ctx) })
}

func (srv *Server) handleFlush(
	ctx context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return srv.command(ctx, "flush", func(ctx context.Context) error { return srv.indexer.Flush(ctx) })
}

func (srv *Server) command(
	ctx context.Context,
	name string,
	run func(context.Context) error,
) (*mcp.CallToolResult, error) {
	if srv.indexer == nil {
		return mcp.NewToolResultError("indexer not initialized"), nil
	}
	if err := run(ctx); err != nil {
		srv.logger.Warn("command failed", slog.String("command", name), slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", name, err)), nil
	}
	return mcp.NewToolResultStructuredOnly(AckResult{Status: "ok"}), nil
}

func (srv *Server) handleSetActiveFile(
	_ context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return srv.withPath(req, func(p string) { srv.indexer.SetActiveFile(p) })
}

func (srv *Server) handleMarkAccessed(
	_ context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return srv.withPath(req, func(p string) { srv.indexer.MarkAccessed(p) })
}

func (srv *Server) withPath(req mcp.CallToolRequest, apply func(string)) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if srv.indexer == nil {
		return mcp.NewToolResultError("indexer not initialized"), nil
	}
	path = srv.resolve(path)
	apply(path)
	return mcp.NewToolResultStructuredOnly(AckResult{Status: "ok", Path: path}), nil
}

func (srv *Server) resolve(path string) string {
	if filepath.IsAbs(path) || srv.workspace == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(srv.workspace, path)
}
