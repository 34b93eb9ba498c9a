package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/abacus-exp/abacus/internal/recommendations"
	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var resultsAllStrategies bool

var resultsCmd = &cobra.Command{
	Use:   "results <experiment>",
	Short: "Show recommendations for an experiment",
	Long: `Show, for every metric assignment, the difference between each variation
and the default one and the resulting deployment recommendation.

The primary metric comes first. Recommendations aggregate every analysis
strategy into the experiment's default one; strategies that disagree on
the variation to deploy need a manual analysis.

Examples:
  abacus results explat_test
  abacus results 42 --all`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().BoolVarP(&resultsAllStrategies, "all", "a", false, "show every analysis strategy")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		snap, err := loadSnapshot(context.Background(), s, args[0])
		if err != nil {
			return err
		}

		summaries, err := recommendations.SummarizeExperiment(&snap.Experiment, snap.Metrics, snap.Analyses, now())
		if err != nil {
			return fmt.Errorf("failed to compute recommendations: %w", err)
		}

		out := cmd.OutOrStdout()
		e := &snap.Experiment
		fmt.Fprintf(out, "EXPERIMENT: %s (id %d)\n", e.Name, e.ExperimentID)
		fmt.Fprintf(out, "STATUS: %s\n", e.Status)
		fmt.Fprintf(out, "RUNNING: %s to %s\n", e.StartDatetime.Format("2006-01-02"), e.EndDatetime.Format("2006-01-02"))
		fmt.Fprintf(out, "STRATEGY: %s\n", e.DefaultAnalysisStrategy())
		fmt.Fprintln(out)

		if len(summaries) == 0 {
			fmt.Fprintln(out, "No metrics assigned.")
			return nil
		}
		return printSummaries(out, e, summaries, resultsAllStrategies)
	})
}

func printSummaries(out io.Writer, e *schemas.Experiment, summaries []recommendations.MetricAssignmentSummary, all bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVARIATION\tDIFF (95% CI)\tDECISION\tDEPLOY\tSTRONG ENOUGH\tANALYZED")

	for _, sum := range summaries {
		metricName := sum.Metric.Name
		if sum.MetricAssignment.IsPrimary {
			metricName += " (primary)"
		}

		variation := sum.VariationDiffKey
		if change, _, err := schemas.ParseVariationDiffKey(sum.VariationDiffKey); err == nil {
			variation = variationName(e, &change)
		}

		analyzed := "-"
		if !sum.AnalysisDatetime.IsZero() {
			analyzed = humanize.RelTime(sum.AnalysisDatetime, now(), "ago", "from now")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			metricName,
			variation,
			formatDiff(&sum.Metric, sum.Diff),
			sum.Aggregate.Decision,
			variationName(e, sum.Aggregate.ChosenVariationID),
			yesNo(sum.Aggregate.StrongEnoughForDeployment),
			analyzed,
		)

		if all {
			for _, rec := range sum.Recommendations {
				fmt.Fprintf(w, "  %s\t\t\t%s\t%s\t%s\t\n",
					rec.AnalysisStrategy,
					rec.Decision,
					variationName(e, rec.ChosenVariationID),
					yesNo(rec.StrongEnoughForDeployment),
				)
			}
		}
	}
	return w.Flush()
}

func formatDiff(m *schemas.Metric, diff *schemas.DistributionStats) string {
	if diff == nil {
		return "N/A"
	}
	bottom, err := m.FormatDifference(diff.CI95.Bottom)
	if err != nil {
		return "N/A"
	}
	top, err := m.FormatDifference(diff.CI95.Top)
	if err != nil {
		return "N/A"
	}
	return fmt.Sprintf("[%s, %s]", bottom, top)
}

func variationName(e *schemas.Experiment, id *int64) string {
	if id == nil {
		return "-"
	}
	if v := e.Variation(*id); v != nil {
		return v.Name
	}
	return fmt.Sprintf("variation %d", *id)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
