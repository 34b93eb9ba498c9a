package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/abacus-exp/abacus/internal/recommendations"
	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

const noDeployment = "none"

func init() {
	rootCmd.AddCommand(newConcludeCmd())
}

func newConcludeCmd() *cobra.Command {
	var (
		variation     string
		reason        string
		conclusionURL string
		yes           bool
	)

	cmd := &cobra.Command{
		Use:   "conclude <experiment>",
		Short: "Conclude a running experiment",
		Long: `Conclude a running experiment, recording the deployed variation and why.

Without --variation you pick one interactively; the primary metric's
recommendation is preselected. Use --variation none when nothing is
deployed.

Examples:
  abacus conclude explat_test
  abacus conclude 42 --variation 2 --reason "treatment won" --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				snap, err := loadSnapshot(ctx, s, args[0])
				if err != nil {
					return err
				}
				e := &snap.Experiment

				if e.Status != schemas.StatusRunning {
					return fmt.Errorf("experiment is not running (current status: %s)", e.Status)
				}

				suggested, err := suggestedVariation(snap)
				if err != nil {
					return err
				}

				var deployed *int64
				if variation == "" {
					deployed, err = promptVariation(e, suggested)
				} else {
					deployed, err = parseVariation(e, variation)
				}
				if err != nil {
					return err
				}

				if reason == "" {
					reason, err = (&promptui.Prompt{
						Label:    "End reason",
						Validate: requireText,
					}).Run()
					if err != nil {
						return promptError(err)
					}
				}

				if !yes {
					_, err := (&promptui.Prompt{
						Label:     fmt.Sprintf("Conclude '%s' deploying %s", e.Name, variationName(e, deployed)),
						IsConfirm: true,
					}).Run()
					if err != nil {
						return promptError(err)
					}
				}

				concluded, err := s.ConcludeExperiment(ctx, e.ExperimentID, deployed, reason, conclusionURL)
				if err != nil {
					return fmt.Errorf("failed to conclude experiment: %w", err)
				}

				slog.Debug("concluded experiment", "experiment_id", concluded.ExperimentID, "deployed", deployed)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Concluded experiment '%s'\n", concluded.Name)
				fmt.Fprintf(out, "Deployed variation: %s\n", variationName(concluded, concluded.DeployedVariationID))
				if suggested != nil && (deployed == nil || *deployed != *suggested) {
					fmt.Fprintf(out, "Note: the recommendation was to deploy %s.\n", variationName(e, suggested))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&variation, "variation", "", "deployed variation id, or 'none'")
	cmd.Flags().StringVar(&reason, "reason", "", "why the experiment ended")
	cmd.Flags().StringVar(&conclusionURL, "url", "", "link to the write-up")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// suggestedVariation is the variation the primary metric recommends, if
// any.
func suggestedVariation(snap *schemas.Snapshot) (*int64, error) {
	summaries, err := recommendations.SummarizeExperiment(&snap.Experiment, snap.Metrics, snap.Analyses, now())
	if err != nil {
		return nil, fmt.Errorf("failed to compute recommendations: %w", err)
	}
	for _, sum := range summaries {
		if sum.MetricAssignment.IsPrimary && sum.Aggregate.ChosenVariationID != nil {
			return sum.Aggregate.ChosenVariationID, nil
		}
	}
	return nil, nil
}

func parseVariation(e *schemas.Experiment, value string) (*int64, error) {
	if strings.EqualFold(value, noDeployment) {
		return nil, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || e.Variation(id) == nil {
		return nil, fmt.Errorf("invalid variation: %s (experiment has %s)", value, variationIDs(e))
	}
	return &id, nil
}

func variationIDs(e *schemas.Experiment) string {
	ids := make([]string, len(e.Variations))
	for i, v := range e.Variations {
		ids[i] = strconv.FormatInt(v.VariationID, 10)
	}
	return strings.Join(ids, ", ")
}

func promptVariation(e *schemas.Experiment, suggested *int64) (*int64, error) {
	items := make([]string, 0, len(e.Variations)+1)
	cursor := len(e.Variations)
	for i, v := range e.Variations {
		label := fmt.Sprintf("%s (id %d)", v.Name, v.VariationID)
		if suggested != nil && v.VariationID == *suggested {
			label += " - recommended"
			cursor = i
		}
		items = append(items, label)
	}
	items = append(items, "No deployment")

	prompt := promptui.Select{
		Label:     "Deployed variation",
		Items:     items,
		CursorPos: cursor,
		Size:      len(items),
	}

	idx, _, err := prompt.Run()
	if err != nil {
		return nil, promptError(err)
	}
	if idx == len(e.Variations) {
		return nil, nil
	}
	id := e.Variations[idx].VariationID
	return &id, nil
}

func requireText(input string) error {
	if strings.TrimSpace(input) == "" {
		return errors.New("required")
	}
	return nil
}

func promptError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		return errors.New("cancelled")
	}
	return fmt.Errorf("prompt failed: %w", err)
}
