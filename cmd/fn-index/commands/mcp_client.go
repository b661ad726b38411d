package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
	appmcp "github.com/0x5457/fn-index/internal/mcp"
)

const (
	transportStdio  = "stdio"
	transportHTTP   = "http"
	transportSSE    = "sse"
	transportInproc = "inproc"

	clientTimeout = 30 * time.Second
)

type clientOptions struct {
	transport string
	address   string
}

// NewMCPClientCommand creates commands for connecting to and interacting with MCP servers
func NewMCPClientCommand(opts *GlobalOptions) *cobra.Command {
	co := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "mcp-client",
		Short: "MCP client commands",
		Long:  "Commands for connecting to and interacting with an fn-index MCP server",
	}

	cmd.AddCommand(
		newMCPCallCommand(opts, co),
		newMCPListToolsCommand(opts, co),
		newMCPSearchCommand(opts, co),
	)

	cmd.PersistentFlags().
		StringVarP(&co.transport, "transport", "t", transportStdio, "transport (stdio, http, sse, inproc)")
	cmd.PersistentFlags().
		StringVarP(&co.address, "address", "a", "", "server URL (http/sse), ignored for stdio/inproc")

	return cmd
}

func newMCPCallCommand(opts *GlobalOptions, co *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool_name> [key=value...]",
		Short: "Call a specific MCP tool",
		Long: `Call a specific MCP tool with arguments.
Arguments should be provided as key=value pairs.

Example:
  fn-index mcp-client call search_functions query=parse limit=10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(args[1:])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, co, func(ctx context.Context, c *appmcp.Client) error {
				result, err := c.Call(ctx, args[0], toolArgs)
				if err != nil {
					return fmt.Errorf("call tool failed: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newMCPListToolsCommand(opts *GlobalOptions, co *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List available MCP tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, co, func(ctx context.Context, c *appmcp.Client) error {
				tools, err := c.ListTools(ctx)
				if err != nil {
					return fmt.Errorf("failed to list tools: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(tools) == 0 {
					fmt.Fprintln(out, "No tools available")
					return nil
				}

				fmt.Fprintf(out, "Available MCP tools (%d):\n\n", len(tools))
				for i, tool := range tools {
					fmt.Fprintf(out, "%d. %s\n", i+1, tool.Name)
					if tool.Description != "" {
						fmt.Fprintf(out, "   Description: %s\n", tool.Description)
					}
					if len(tool.InputSchema.Properties) > 0 {
						fmt.Fprintf(out, "   Parameters:\n")
						names := make([]string, 0, len(tool.InputSchema.Properties))
						for name := range tool.InputSchema.Properties {
							names = append(names, name)
						}
						slices.Sort(names)
						for _, name := range names {
							required := ""
							if slices.Contains(tool.InputSchema.Required, name) {
								required = " (required)"
							}
							desc := ""
							if propMap, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
								if d, ok := propMap["description"].(string); ok {
									desc = ": " + d
								}
							}
							fmt.Fprintf(out, "     - %s%s%s\n", name, required, desc)
						}
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}

func newMCPSearchCommand(opts *GlobalOptions, co *clientOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search function names through the MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, co, func(ctx context.Context, c *appmcp.Client) error {
				res, err := c.Search(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				out := cmd.OutOrStdout()
				if res.Status == appmcp.StatusIndexing {
					fmt.Fprintln(out, "still indexing, try again in a moment")
					return nil
				}
				for _, hit := range res.Hits {
					fmt.Fprintf(out, "%s\t%s\n", hit.Name, hit.Description())
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results")
	return cmd
}

// withClient connects over the selected transport and runs fn. The inproc
// transport runs a whole application in this process for the call.
func withClient(
	cmd *cobra.Command,
	opts *GlobalOptions,
	co *clientOptions,
	fn func(context.Context, *appmcp.Client) error,
) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
	defer cancel()

	if co.transport == transportInproc {
		var srv *server.MCPServer
		return runApp(cmd, opts, func(ctx context.Context, _ *cmdsfx.CommandRunner) error {
			c, err := appmcp.NewInProcessClient(ctx, srv)
			if err != nil {
				return fmt.Errorf("create MCP client failed: %w", err)
			}
			defer c.Close() //nolint:errcheck
			return fn(ctx, c)
		}, fx.Populate(&srv))
	}

	c, err := createMCPClient(ctx, opts, co)
	if err != nil {
		return fmt.Errorf("create MCP client failed: %w", err)
	}
	defer c.Close() //nolint:errcheck
	return fn(ctx, c)
}

func createMCPClient(ctx context.Context, opts *GlobalOptions, co *clientOptions) (*appmcp.Client, error) {
	switch co.transport {
	case transportStdio:
		bin, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		args := []string{"mcp", "--watch=false"}
		if opts.Workspace != "" {
			args = append(args, "--workspace", opts.Workspace)
		}
		if opts.DataDir != "" {
			args = append(args, "--data-dir", opts.DataDir)
		}
		if opts.ConfigPath != "" {
			args = append(args, "--config", opts.ConfigPath)
		}
		return appmcp.NewStdioClient(ctx, bin, args...)
	case transportHTTP:
		address := co.address
		if address == "" {
			address = "http://127.0.0.1:8080/mcp"
		}
		return appmcp.NewHTTPClient(ctx, address)
	case transportSSE:
		address := co.address
		if address == "" {
			address = "http://127.0.0.1:8080/mcp/sse"
		}
		return appmcp.NewSSEClient(ctx, address)
	default:
		return nil, fmt.Errorf(
			"unsupported transport: %s (supported: stdio, http, sse, inproc)",
			co.transport,
		)
	}
}

// parseToolArgs turns key=value pairs into tool arguments. Numbers and
// booleans are converted, everything else stays a string.
func parseToolArgs(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid argument format: %s (expected key=value)", arg)
		}
		if val, err := strconv.Atoi(value); err == nil {
			out[key] = val
		} else if val, err := strconv.ParseBool(value); err == nil {
			out[key] = val
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("format result failed: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}
