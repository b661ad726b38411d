package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
)

func NewIndexCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Bring the workspace index up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, func(ctx context.Context, r *cmdsfx.CommandRunner) error {
				return r.RunIndex(ctx)
			})
		},
	}
}

func NewClearCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the workspace index and rebuild it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, func(ctx context.Context, r *cmdsfx.CommandRunner) error {
				return r.RunClear(ctx)
			})
		},
	}
}
