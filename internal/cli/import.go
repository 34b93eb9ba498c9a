package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <snapshot-file>",
	Short: "Import an experiment snapshot",
	Long: `Import an experiment snapshot (JSON or YAML) produced by the analysis
pipeline: the experiment definition, its metrics and its analyses.

Re-importing an experiment updates its definition and replaces analyses
for the same metric assignment, strategy and date.

Examples:
  abacus import snapshots/explat_test.json
  abacus import snapshots/explat_test.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	snap, err := schemas.ReadSnapshotFile(args[0])
	if err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot %s: %w", args[0], err)
	}

	return withStore(func(s *store.SQLiteStore) error {
		if err := s.SaveSnapshot(context.Background(), snap); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}

		slog.Debug("imported snapshot", "path", args[0], "experiment_id", snap.Experiment.ExperimentID)
		fmt.Fprintf(cmd.OutOrStdout(), "Imported experiment '%s' (id %d): %s metrics, %s analyses\n",
			snap.Experiment.Name,
			snap.Experiment.ExperimentID,
			humanize.Comma(int64(len(snap.Metrics))),
			humanize.Comma(int64(len(snap.Analyses))),
		)
		return nil
	})
}
