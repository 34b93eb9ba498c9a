package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/abacus-exp/abacus/internal/health"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	healthJSON   bool
	healthStrict bool
)

var healthCmd = &cobra.Command{
	Use:   "health <experiment>",
	Short: "Show health indicators for an experiment",
	Long: `Show health indicators for an experiment: run time, whether assignment
matches the allocated percentages, and the share of crossovers and spammers.

The experiment can be given by id or name.

Examples:
  abacus health explat_test
  abacus health 42 --json
  abacus health explat_test --strict   # exit non-zero on any error indication`,
	Args: cobra.ExactArgs(1),
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print the report as JSON")
	healthCmd.Flags().BoolVar(&healthStrict, "strict", false, "fail when any indicator reports an error")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		snap, err := loadSnapshot(context.Background(), s, args[0])
		if err != nil {
			return err
		}

		report := health.Assess(&snap.Experiment, snap.Analyses, now())

		out := cmd.OutOrStdout()
		if healthJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
		} else {
			fmt.Fprintf(out, "EXPERIMENT: %s (id %d)\n", snap.Experiment.Name, snap.Experiment.ExperimentID)
			fmt.Fprintf(out, "STATUS: %s\n", snap.Experiment.Status)
			fmt.Fprintf(out, "PARTICIPANTS: %s assigned, %s exposed\n",
				humanize.Comma(report.Counts.Total.Assigned),
				humanize.Comma(report.Counts.Total.Exposed),
			)
			fmt.Fprintln(out)
			if err := printIndicators(out, append(report.Experiment, report.Participants...)); err != nil {
				return err
			}
		}

		if healthStrict && report.Worst() == health.SeverityError {
			return fmt.Errorf("experiment '%s' has health errors", snap.Experiment.Name)
		}
		return nil
	})
}

func printIndicators(out io.Writer, indicators []health.HealthIndicator) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDICATOR\tVALUE\tINDICATION\tREASON")
	for _, ind := range indicators {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ind.Name,
			formatIndicatorValue(ind),
			strings.ToUpper(string(ind.Indication.Code)),
			ind.Indication.Reason,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	var advice []string
	for _, ind := range indicators {
		if ind.Indication.Recommendation != "" {
			advice = append(advice, fmt.Sprintf("  %s: %s", ind.Name, ind.Indication.Recommendation))
		}
	}
	if len(advice) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Recommendations:")
		for _, a := range advice {
			fmt.Fprintln(out, a)
		}
	}
	return nil
}

func formatIndicatorValue(ind health.HealthIndicator) string {
	switch ind.Unit {
	case health.UnitDays:
		return fmt.Sprintf("%.1f days", ind.Value)
	case health.UnitRatio:
		return fmt.Sprintf("%.2f%%", ind.Value*100)
	default:
		return fmt.Sprintf("%.4f", ind.Value)
	}
}
