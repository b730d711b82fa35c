package cli

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/barrage/internal/performance/config"
)

func newQuickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quick <url>",
		Short: "Run a quick test against a single URL",
		Long: `Launch --count virtual users within one second, each sending --num
GET requests to the URL.

Example:
  barrage quick https://api.example.com/health --count 20 --num 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			count, _ := cmd.Flags().GetInt("count")
			num, _ := cmd.Flags().GetInt("num")
			insecure, _ := cmd.Flags().GetBool("insecure")

			script, err := buildQuickScript(args[0], count, num, insecure)
			if err != nil {
				return fatal(err)
			}

			opts, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			opts.title = "quick " + args[0]
			return executeScript(cmd, script, opts, logger)
		},
	}

	cmd.Flags().IntP("count", "c", 10, "Number of virtual users")
	cmd.Flags().IntP("num", "n", 10, "Number of requests per virtual user")
	cmd.Flags().BoolP("insecure", "k", false, "Skip TLS certificate verification")
	addRunFlags(cmd)
	return cmd
}

// buildQuickScript builds a one-phase script: count arrivals over one
// second, each looping num GET requests to target.
func buildQuickScript(target string, count, num int, insecure bool) (*config.TestScript, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", target)
	}
	if count < 1 {
		return nil, fmt.Errorf("--count must be at least 1, got %d", count)
	}
	if num < 1 {
		return nil, fmt.Errorf("--num must be at least 1, got %d", num)
	}

	duration := config.Duration(time.Second)
	arrivals := config.Number(count)
	script := &config.TestScript{
		Config: config.ScriptConfig{
			Phases: []config.PhaseConfig{{
				Name:         "quick",
				Duration:     &duration,
				ArrivalCount: &arrivals,
			}},
			HTTP: config.HTTPSettings{InsecureSkipVerify: insecure},
		},
		Scenarios: []*config.Scenario{{
			Name: "quick",
			Flow: []config.Step{{
				Kind: config.StepLoop,
				Loop: &config.LoopStep{
					Count: num,
					Flow: []config.Step{{
						Kind:    config.StepRequest,
						Request: &config.RequestStep{Method: "GET", URL: target},
					}},
				},
			}},
		}},
	}

	config.ApplyDefaults(script)
	if err := script.Validate(); err != nil {
		return nil, err
	}
	timeline, err := config.BuildPhases(script.Config.Phases)
	if err != nil {
		return nil, err
	}
	script.Timeline = timeline
	return script, nil
}
