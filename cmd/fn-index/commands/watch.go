package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
)

func NewWatchCommand(opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index up to date until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, func(ctx context.Context, r *cmdsfx.CommandRunner) error {
				return r.RunWatch(ctx)
			})
		},
	}
}
