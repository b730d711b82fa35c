package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance/config"
	"github.com/wesleyorama2/barrage/internal/performance/engine"
	"github.com/wesleyorama2/barrage/internal/performance/output"
	"github.com/wesleyorama2/barrage/internal/performance/report"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a load test from a script file",
		Long: `Execute a test script. The script's phases define how virtual users arrive,
its scenarios define what each one does, and its ensure block decides the
exit code.

Examples:
  barrage run checkout.yaml
  barrage run checkout.yaml --workers 4 -o report.json
  barrage run checkout.yaml --target https://staging.example.com --html report.html

Exit codes:
  0   all checks passed
  1   a strict ensure check failed
  6   response expectations failed
  11  the run could not start or complete`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			script, err := config.LoadScript(args[0])
			if err != nil {
				return fatal(fmt.Errorf("error loading script: %w", err))
			}
			if target, _ := cmd.Flags().GetString("target"); target != "" {
				script.Config.Target = target
			}

			opts, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			opts.title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			return executeScript(cmd, script, opts, logger)
		},
	}

	cmd.Flags().StringP("target", "t", "", "Override config.target")
	addRunFlags(cmd)
	return cmd
}

// runOptions are the flags shared by run and quick.
type runOptions struct {
	workers    int
	grace      time.Duration
	seed       int64
	outputPath string
	htmlPath   string
	quiet      bool
	noColor    bool
	title      string
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("workers", "w", 1, "Number of local workers sharing the load")
	cmd.Flags().Duration("grace", 0, "Override the grace period for in-flight virtual users")
	cmd.Flags().Int64("seed", 0, "Seed for deterministic scenario selection")
	cmd.Flags().StringP("output", "o", "", "Write the JSON report to this file")
	cmd.Flags().String("html", "", "Write an HTML report to this file")
	cmd.Flags().BoolP("quiet", "q", false, "Only print the check results")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	var opts runOptions
	opts.workers, _ = cmd.Flags().GetInt("workers")
	opts.grace, _ = cmd.Flags().GetDuration("grace")
	opts.seed, _ = cmd.Flags().GetInt64("seed")
	opts.outputPath, _ = cmd.Flags().GetString("output")
	opts.htmlPath, _ = cmd.Flags().GetString("html")
	opts.quiet, _ = cmd.Flags().GetBool("quiet")
	opts.noColor, _ = cmd.Flags().GetBool("no-color")

	if opts.workers < 1 {
		return opts, fmt.Errorf("--workers must be at least 1, got %d", opts.workers)
	}
	if opts.grace < 0 {
		return opts, fmt.Errorf("--grace cannot be negative")
	}
	return opts, nil
}

// executeScript runs script, prints progress and the summary, writes the
// requested report files and maps the outcome to an exit code.
func executeScript(cmd *cobra.Command, script *config.TestScript, opts runOptions, logger *zap.Logger) error {
	out := cmd.OutOrStdout()
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  out,
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})

	eng, err := engine.New(script, engine.Options{
		Workers:    opts.workers,
		Grace:      opts.grace,
		Seed:       opts.seed,
		Out:        out,
		Logger:     logger,
		OnInterval: console.PrintInterval,
		OnPhase:    console.PrintPhase,
	})
	if err != nil {
		return fatal(fmt.Errorf("error creating engine: %w", err))
	}

	console.PrintHeader(eng.RunContext().ID, script, opts.workers)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := eng.Run(ctx)
	if result == nil {
		return fatal(runErr)
	}
	if runErr != nil {
		logger.Debug("run ended with error", zap.Error(runErr))
	}

	console.PrintSummary(result)

	if err := writeReports(result, opts); err != nil {
		return fatal(err)
	}

	if code := result.Outcome.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func writeReports(result *engine.Result, opts runOptions) error {
	if opts.outputPath == "" && opts.htmlPath == "" {
		return nil
	}
	fr := output.NewFileReport(result)

	if opts.outputPath != "" {
		if err := output.WriteFileReport(opts.outputPath, fr); err != nil {
			return err
		}
	}
	if opts.htmlPath != "" {
		if err := report.GenerateHTML(fr, opts.title, opts.htmlPath); err != nil {
			return fmt.Errorf("error generating HTML report: %w", err)
		}
	}
	return nil
}

// commandContext returns the command context, never nil.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
