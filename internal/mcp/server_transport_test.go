package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5457/fn-index/internal/models"
)

type dialer func(ctx context.Context, t *testing.T, s *server.MCPServer) (*Client, error)

func dialStreamableHTTP(ctx context.Context, t *testing.T, s *server.MCPServer) (*Client, error) {
	ts := httptest.NewServer(server.NewStreamableHTTPServer(s))
	t.Cleanup(ts.Close)
	return NewHTTPClient(ctx, ts.URL)
}

func dialSSE(ctx context.Context, t *testing.T, s *server.MCPServer) (*Client, error) {
	sse := server.NewSSEServer(s, server.WithStaticBasePath("/mcp"))
	mux := http.NewServeMux()
	mux.Handle("/mcp/sse", sse.SSEHandler())
	mux.Handle("/mcp/message", sse.MessageHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewSSEClient(ctx, ts.URL+"/mcp/sse")
}

func dialInProcess(ctx context.Context, _ *testing.T, s *server.MCPServer) (*Client, error) {
	return NewInProcessClient(ctx, s)
}

var transports = []struct {
	name string
	dial dialer
}{
	{"streamable-http", dialStreamableHTTP},
	{"sse", dialSSE},
	{"inproc", dialInProcess},
}

func dialTransport(t *testing.T, dial dialer, idx *fakeIndexer) (context.Context, *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	cli, err := dial(ctx, t, New(idx, "/ws", nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return ctx, cli
}

func TestSearchOverTransports(t *testing.T) {
	for _, tr := range transports {
		t.Run(tr.name, func(t *testing.T) {
			idx := &fakeIndexer{ready: true, hits: []models.SearchHit{
				{Name: "parseArgs", File: "/ws/cli.go", RelativeFilePath: "cli.go", Line: 12, Extension: ".go"},
				{Name: "print", File: "/ws/out.py", RelativeFilePath: "out.py", Line: 4, Extension: ".py"},
			}}
			ctx, cli := dialTransport(t, tr.dial, idx)

			res, err := cli.Search(ctx, "prs", 0)
			require.NoError(t, err)
			assert.Equal(t, StatusReady, res.Status)
			assert.Equal(t, []models.SearchHit{idx.hits[0]}, res.Hits)

			res, err = cli.Search(ctx, "", 1)
			require.NoError(t, err)
			assert.Len(t, res.Hits, 1)
		})
	}
}

func TestIndexingStatusOverTransports(t *testing.T) {
	for _, tr := range transports {
		t.Run(tr.name, func(t *testing.T) {
			ctx, cli := dialTransport(t, tr.dial, &fakeIndexer{})

			res, err := cli.Search(ctx, "main", 0)
			require.NoError(t, err)
			assert.Equal(t, StatusIndexing, res.Status)
			assert.Empty(t, res.Hits)

			tools, err := cli.ListTools(ctx)
			require.NoError(t, err)
			assert.Len(t, tools, 7)
		})
	}
}
