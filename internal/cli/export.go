package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/spf13/cobra"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <experiment>",
	Short: "Export analyses",
	Long: `Export every stored analysis of an experiment in CSV or JSON format.

CSV has one row per analysis and variation diff; JSON is the full snapshot
and can be imported again.

Examples:
  abacus export explat_test --format csv > explat_test.csv
  abacus export explat_test --format json > explat_test.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		snap, err := loadSnapshot(context.Background(), s, args[0])
		if err != nil {
			return err
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), snap.Analyses)
		}
		return exportJSON(cmd.OutOrStdout(), snap)
	})
}

func exportCSV(out io.Writer, analyses []schemas.Analysis) error {
	w := csv.NewWriter(out)

	header := []string{
		"metric_assignment_id", "analysis_strategy", "analysis_datetime", "participants",
		"variation_diff_key", "diff_mean", "diff_bottom_95", "diff_top_95",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, a := range analyses {
		base := []string{
			strconv.FormatInt(a.MetricAssignmentID, 10),
			string(a.AnalysisStrategy),
			a.AnalysisDatetime.UTC().Format(time.RFC3339),
			strconv.FormatInt(a.ParticipantStats.Total(), 10),
		}

		var keys []string
		if a.MetricEstimates != nil {
			for k := range a.MetricEstimates.Diffs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
		}
		if len(keys) == 0 {
			if err := w.Write(append(base, "", "", "", "")); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
			continue
		}

		for _, k := range keys {
			d := a.MetricEstimates.Diffs[k]
			row := append(append([]string{}, base...),
				k,
				formatFloat(d.Mean),
				formatFloat(d.CI95.Bottom),
				formatFloat(d.CI95.Top),
			)
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func exportJSON(out io.Writer, snap *schemas.Snapshot) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(snap)
}
