package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/0x5457/fn-index/cmd/cmdsfx"
	"github.com/0x5457/fn-index/internal/app/appfx"
)

// GlobalOptions are the flags shared by every command
type GlobalOptions struct {
	Workspace  string
	DataDir    string
	ConfigPath string
}

func (o *GlobalOptions) Bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&o.Workspace, "workspace", "w", "", "workspace root (default: current directory)")
	cmd.PersistentFlags().StringVar(&o.DataDir, "data-dir", "", "index store directory (default: user cache dir)")
	cmd.PersistentFlags().StringVarP(&o.ConfigPath, "config", "c", "", "config file (default: <workspace>/.fn-index.yaml)")
}

func (o *GlobalOptions) workspace() (string, error) {
	if o.Workspace != "" {
		return o.Workspace, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return wd, nil
}

// runApp starts the application, hands the command runner to run and stops
// the application again, flushing the index. Results go to cmd's output.
func runApp(
	cmd *cobra.Command,
	opts *GlobalOptions,
	run func(context.Context, *cmdsfx.CommandRunner) error,
	extra ...fx.Option,
) error {
	ctx := cmd.Context()
	ws, err := opts.workspace()
	if err != nil {
		return err
	}

	var runner *cmdsfx.CommandRunner
	app := appfx.NewApp(ws, opts.DataDir, opts.ConfigPath, append(extra, fx.Populate(&runner))...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	runner.SetOutput(cmd.OutOrStdout())
	runErr := run(ctx, runner)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to stop application: %w", err))
	}
	return runErr
}
