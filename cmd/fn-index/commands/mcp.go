package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
)

// NewMCPServeCommand runs the index behind an MCP server.
func NewMCPServeCommand(opts *GlobalOptions) *cobra.Command {
	var (
		transport string
		address   string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run MCP server",
		Long:  "Run MCP server, provide function search and index maintenance tools.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, func(ctx context.Context, r *cmdsfx.CommandRunner) error {
				return r.RunMCPServer(ctx, transport, address, watch)
			})
		},
	}

	cmd.Flags().
		StringVarP(&transport, "transport", "t", cmdsfx.TransportStdio, "transport (stdio, http, sse)")
	cmd.Flags().StringVarP(&address, "address", "a", "", "server address (http modes), e.g. :8080")
	cmd.Flags().BoolVar(&watch, "watch", true, "index file system changes while serving")

	return cmd
}
