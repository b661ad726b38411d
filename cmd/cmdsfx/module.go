package cmdsfx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/0x5457/fn-index/internal/config"
	"github.com/0x5457/fn-index/internal/indexer"
	"github.com/0x5457/fn-index/internal/patterns/patternsfx"
	"github.com/0x5457/fn-index/internal/watcher"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"

	DefaultAddress = ":8080"
	shutdownGrace  = 5 * time.Second
)

// CommandRunner provides methods to run different application commands
type CommandRunner struct {
	config     *config.Config
	configPath string
	indexer    indexer.Indexer
	mcpServer  *server.MCPServer
	logger     *slog.Logger
	out        io.Writer
}

// Params represents dependencies for command runner
type Params struct {
	fx.In

	Config     *config.Config
	ConfigPath string            `name:"configPath" optional:"true"`
	Indexer    indexer.Indexer   `optional:"true"`
	MCPServer  *server.MCPServer `optional:"true"`
	Logger     *slog.Logger      `optional:"true"`
}

// NewCommandRunner creates a new command runner
func NewCommandRunner(params Params) *CommandRunner {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{
		config:     params.Config,
		configPath: params.ConfigPath,
		indexer:    params.Indexer,
		mcpServer:  params.MCPServer,
		logger:     logger,
		out:        os.Stdout,
	}
}

// SetOutput redirects command results, stdout by default.
func (r *CommandRunner) SetOutput(w io.Writer) { r.out = w }

// RunIndex waits for the initial scan and writes everything to the store
func (r *CommandRunner) RunIndex(ctx context.Context) error {
	if r.indexer == nil {
		return fmt.Errorf("indexer not available")
	}
	if err := r.settle(ctx); err != nil {
		return err
	}
	st := r.indexer.Status()
	fmt.Fprintf(r.out, "indexed %d functions in %d files\n", st.Functions, st.Files)
	return nil
}

// RunSearch prints the hits for query, one per line
func (r *CommandRunner) RunSearch(ctx context.Context, query string, limit int) error {
	if r.indexer == nil {
		return fmt.Errorf("indexer not available")
	}
	if err := r.indexer.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait for index: %w", err)
	}
	hits, err := r.indexer.Search(ctx, query)
	if err != nil {
		return err
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	for _, hit := range hits {
		fmt.Fprintf(r.out, "%s\t%s\n", hit.Name, hit.Description())
	}
	return nil
}

// RunClear drops the index and rebuilds it from scratch
func (r *CommandRunner) RunClear(ctx context.Context) error {
	if r.indexer == nil {
		return fmt.Errorf("indexer not available")
	}
	if err := r.indexer.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := r.settle(ctx); err != nil {
		return err
	}
	st := r.indexer.Status()
	fmt.Fprintf(r.out, "index cleared, reindexed %d functions in %d files\n", st.Functions, st.Files)
	return nil
}

// RunWatch feeds file system changes to the indexer until ctx is done
func (r *CommandRunner) RunWatch(ctx context.Context) error {
	if r.indexer == nil {
		return fmt.Errorf("indexer not available")
	}
	return r.watch(ctx)
}

// RunMCPServer serves the MCP tools over transport. With watch set, file
// system changes are indexed while the server runs. It returns when the
// server stops or ctx is done.
func (r *CommandRunner) RunMCPServer(ctx context.Context, transport, address string, watch bool) error {
	if r.mcpServer == nil {
		return fmt.Errorf("MCP server not available")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if watch && r.indexer != nil {
		g.Go(func() error { return r.watch(gctx) })
	}
	g.Go(func() error {
		// the client going away ends the watcher too
		defer cancel()
		return r.serve(gctx, transport, address)
	})
	return g.Wait()
}

func (r *CommandRunner) settle(ctx context.Context) error {
	if err := r.indexer.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait for index: %w", err)
	}
	if err := r.indexer.Flush(ctx); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	return nil
}

func (r *CommandRunner) watch(ctx context.Context) error {
	w, err := watcher.New(r.config.Workspace, r.config.Filter(), r.logger)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	r.logger.Info("watching workspace", slog.String("workspace", r.config.Workspace))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		for ev := range w.Events() {
			r.indexer.HandleEvent(ev)
		}
		return nil
	})
	if path := r.configFile(); path != "" {
		g.Go(func() error {
			return watcher.WatchFile(gctx, path, r.logger, func() { r.reload(gctx, path, w) })
		})
	}
	return g.Wait()
}

func (r *CommandRunner) configFile() string {
	if r.configPath != "" {
		return r.configPath
	}
	return config.Discover(r.config.Workspace)
}

// reload applies pattern and exclusion changes from the config file to the
// indexer and to w when set. Other settings need a restart.
func (r *CommandRunner) reload(ctx context.Context, path string, w *watcher.Watcher) {
	cfg, err := config.Load(path)
	if err != nil {
		r.logger.Warn("config reload failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	reg, err := patternsfx.NewRegistry(patternsfx.Params{Config: cfg, Logger: r.logger})
	if err != nil {
		r.logger.Warn("config reload failed", slog.String("path", path), slog.Any("error", err))
		return
	}
	if err := r.indexer.UpdatePatterns(ctx, reg); err != nil {
		r.logger.Warn("update patterns failed", slog.Any("error", err))
	}
	if err := r.indexer.UpdateExclusions(ctx, cfg.Filter()); err != nil {
		r.logger.Warn("update exclusions failed", slog.Any("error", err))
	}
	if w != nil {
		if err := w.SetFilter(cfg.Filter()); err != nil {
			r.logger.Warn("update watcher filter failed", slog.Any("error", err))
		}
	}
	r.logger.Info("config reloaded", slog.String("path", path))
}

type httpServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

func (r *CommandRunner) serve(ctx context.Context, transport, address string) error {
	if address == "" {
		address = DefaultAddress
	}
	switch transport {
	case TransportStdio:
		err := server.NewStdioServer(r.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case TransportHTTP:
		return r.serveHTTP(ctx, server.NewStreamableHTTPServer(r.mcpServer), address)
	case TransportSSE:
		// SSE server exposes two endpoints under the "/mcp" base path
		return r.serveHTTP(ctx, server.NewSSEServer(r.mcpServer,
			server.WithBaseURL(""),
			server.WithStaticBasePath("/mcp"),
		), address)
	default:
		return fmt.Errorf(
			"unsupported transport: %s (supported: stdio, http, sse)",
			transport,
		)
	}
}

func (r *CommandRunner) serveHTTP(ctx context.Context, srv httpServer, address string) error {
	r.logger.Info("serving MCP", slog.String("address", address))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(address) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			r.logger.Warn("MCP shutdown failed", slog.Any("error", serr))
		}
		err = <-errCh
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Module provides command runner
var Module = fx.Module("commands",
	fx.Provide(NewCommandRunner),
)
