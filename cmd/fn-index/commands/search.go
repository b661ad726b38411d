package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
)

func NewSearchCommand(opts *GlobalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find functions whose name contains the query characters in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			return runApp(cmd, opts, func(ctx context.Context, r *cmdsfx.CommandRunner) error {
				return r.RunSearch(ctx, query, limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (0: search.max_results)")
	return cmd
}
