package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/barrage/internal/performance/ensure"
	"github.com/wesleyorama2/barrage/internal/performance/output"
	"github.com/wesleyorama2/barrage/internal/performance/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <file>...",
		Short: "Print, merge and render JSON reports",
		Long: `Read one or more JSON reports written with run -o. Several files, such as
the reports of distributed workers, are merged into one: counters add up,
histograms merge exactly and intermediate reports merge by position.

Examples:
  barrage report report.json --html report.html
  barrage report worker-*.json -o merged.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			htmlPath, _ := cmd.Flags().GetString("html")
			outputPath, _ := cmd.Flags().GetString("output")
			title, _ := cmd.Flags().GetString("title")
			noColor, _ := cmd.Flags().GetBool("no-color")

			reports := make([]*output.FileReport, 0, len(args))
			for _, path := range args {
				fr, err := output.ReadFileReport(path)
				if err != nil {
					return err
				}
				reports = append(reports, fr)
			}

			merged := reports[0]
			if len(reports) > 1 {
				merged = output.MergeFileReports(reports...)
			}

			console := output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: noColor})
			header := fmt.Sprintf("Summary report (%d file", len(reports))
			if len(reports) > 1 {
				header += "s"
			}
			console.PrintReport(header+")", merged.Aggregate)
			if len(merged.Checks) > 0 {
				console.PrintOutcome(ensure.Outcome{Results: checkOutcome(merged.Checks)})
			}

			if outputPath != "" {
				if err := output.WriteFileReport(outputPath, merged); err != nil {
					return err
				}
			}
			if htmlPath != "" {
				if title == "" {
					title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
				if err := report.GenerateHTML(merged, title, htmlPath); err != nil {
					return fmt.Errorf("error generating HTML report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "HTML report written to %s\n", htmlPath)
			}
			return nil
		},
	}

	cmd.Flags().String("html", "", "Write an HTML report to this file")
	cmd.Flags().StringP("output", "o", "", "Write the merged JSON report to this file")
	cmd.Flags().String("title", "", "Title of the HTML report")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

// checkOutcome converts stored check results back into ensure results.
func checkOutcome(checks []output.CheckResult) []ensure.Result {
	out := make([]ensure.Result, 0, len(checks))
	for _, c := range checks {
		r := ensure.Result{Expression: c.Expression, Passed: c.Passed, Strict: c.Strict, Actual: c.Actual}
		if c.Error != "" {
			r.Err = errors.New(c.Error)
		}
		out = append(out, r)
	}
	return out
}
