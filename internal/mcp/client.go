package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Client wraps an initialized MCP client talking to an fn-index server.
type Client struct{ c *client.Client }

// NewStdioClient launches bin with args and talks to it over stdio.
func NewStdioClient(ctx context.Context, bin string, args ...string) (*Client, error) {
	return connect(ctx, transport.NewStdio(bin, nil, args...))
}

// NewHTTPClient connects to a streamable-http server at url.
func NewHTTPClient(ctx context.Context, url string) (*Client, error) {
	tr, err := transport.NewStreamableHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("new streamable http: %w", err)
	}
	return connect(ctx, tr)
}

// NewSSEClient connects to an SSE endpoint such as http://host/mcp/sse.
func NewSSEClient(ctx context.Context, url string) (*Client, error) {
	tr, err := transport.NewSSE(url)
	if err != nil {
		return nil, fmt.Errorf("new sse: %w", err)
	}
	return connect(ctx, tr)
}

// NewInProcessClient talks to s without any transport in between.
func NewInProcessClient(ctx context.Context, s *server.MCPServer) (*Client, error) {
	return connect(ctx, transport.NewInProcessTransport(s))
}

func connect(ctx context.Context, tr transport.Interface) (*Client, error) {
	cli := client.NewClient(tr)

	// stdio processes and SSE streams live as long as the start context
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "fn-index-cli", Version: ServerVersion}
	initReq.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("init mcp client: %w", err)
	}

	return &Client{c: cli}, nil
}

func (c *Client) Close() error { return c.c.Close() }

func (c *Client) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return c.c.CallTool(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}})
}

func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := c.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// Search calls search_functions and decodes the structured result.
func (c *Client) Search(ctx context.Context, query string, limit int) (SearchResult, error) {
	var out SearchResult
	res, err := c.Call(ctx, "search_functions", map[string]any{"query": query, "limit": limit})
	if err != nil {
		return out, err
	}
	err = Decode(res, &out)
	return out, err
}

// Decode converts a tool result's structured content into v. Error results
// are returned as errors carrying their text.
func Decode(res *mcp.CallToolResult, v any) error {
	if res.IsError {
		return fmt.Errorf("tool error: %s", ResultText(res))
	}
	var raw []byte
	if res.StructuredContent != nil {
		var err error
		if raw, err = json.Marshal(res.StructuredContent); err != nil {
			return fmt.Errorf("encode structured content: %w", err)
		}
	} else {
		// structured results carry a JSON text fallback
		raw = []byte(ResultText(res))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode structured content: %w", err)
	}
	return nil
}

// ResultText joins the text parts of a tool result.
func ResultText(res *mcp.CallToolResult) string {
	var out string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}
