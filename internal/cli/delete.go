package cli

import (
	"context"
	"fmt"

	"github.com/abacus-exp/abacus/internal/store"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDeleteCmd())
}

func newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <experiment>",
		Short: "Delete an experiment and its analyses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				snap, err := loadSnapshot(ctx, s, args[0])
				if err != nil {
					return err
				}

				if !yes {
					_, err := (&promptui.Prompt{
						Label:     fmt.Sprintf("Delete '%s' and %d analyses", snap.Experiment.Name, len(snap.Analyses)),
						IsConfirm: true,
					}).Run()
					if err != nil {
						return promptError(err)
					}
				}

				if err := s.DeleteExperiment(ctx, snap.Experiment.ExperimentID); err != nil {
					return fmt.Errorf("failed to delete experiment: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted experiment '%s'\n", snap.Experiment.Name)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
