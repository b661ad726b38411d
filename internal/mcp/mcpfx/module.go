package mcpfx

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/indexer"
	appmcp "github.com/0x5457/fn-index/internal/mcp"
)

// Params represents dependencies for MCP server
type Params struct {
	fx.In

	Indexer indexer.Indexer
	Config  *config.Config
	Logger  *slog.Logger `optional:"true"`
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(params Params) *server.MCPServer {
	return appmcp.New(params.Indexer, params.Config.Workspace, params.Logger)
}

// Module provides MCP server components
var Module = fx.Module("mcp",
	fx.Provide(NewMCPServer),
)
