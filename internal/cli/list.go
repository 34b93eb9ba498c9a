package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/abacus-exp/abacus/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Long:  `List all imported experiments with their platform, status and run time.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		experiments, err := s.ListExperiments(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(experiments) == 0 {
			fmt.Fprintln(out, "No experiments yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Import a snapshot from the analysis pipeline:")
			fmt.Fprintln(out, "  abacus import snapshot.json")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tSTATUS\tVARIATIONS\tSTARTED\tRUN TIME")

		t := now()
		for _, e := range experiments {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
				e.ExperimentID,
				e.Name,
				e.Platform,
				strings.ToUpper(string(e.Status)),
				len(e.Variations),
				e.StartDatetime.Format("2006-01-02"),
				formatRunDays(e.RunHours(t)),
			)
		}

		return w.Flush()
	})
}

func formatRunDays(hours float64) string {
	days := int64(hours / 24)
	if days == 1 {
		return "1 day"
	}
	return humanize.Comma(days) + " days"
}
