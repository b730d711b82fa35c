package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wesleyorama2/barrage/internal/performance/ensure"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "barrage",
		Short:   "Scenario-driven HTTP load testing",
		Version: version,
		Long: `Barrage drives virtual users through HTTP scenarios following a timeline
of arrival phases, reports metrics periodically and checks the final report
against pass/fail conditions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			_ = cmd.Help()
		},
	}

	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newQuickCmd())
	cmd.AddCommand(newReportCmd())
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return execute(RootCmd, os.Args[1:], os.Stderr)
}

func execute(cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return ensure.ExitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(stderr, "Error:", exit.err)
		}
		return exit.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

// exitError carries a process exit code out of a command. err may be nil
// when the command already printed its outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// fatal wraps err with the fatal exit code.
func fatal(err error) error {
	return &exitError{code: ensure.ExitFatal, err: err}
}

// newLogger builds the console logger writing to stderr.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}
