package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0x5457/fn-index/cmd/fn-index/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &commands.GlobalOptions{}
	rootCmd := &cobra.Command{
		Use:           "fn-index",
		Short:         "Incremental function name index for a workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.Bind(rootCmd)

	rootCmd.AddCommand(
		commands.NewIndexCommand(opts),
		commands.NewSearchCommand(opts),
		commands.NewWatchCommand(opts),
		commands.NewClearCommand(opts),
		commands.NewMCPServeCommand(opts),
		commands.NewMCPClientCommand(opts),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
