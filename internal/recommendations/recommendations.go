// Package recommendations turns credible intervals into a deployment
// recommendation for each metric assignment of an experiment.
package recommendations

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
)

var ErrInvalidMetricEstimates = errors.New("invalid metricEstimates: bottom greater than top")

type PracticalSignificance string

const (
	PracticallySignificantYes       PracticalSignificance = "yes"
	PracticallySignificantNo        PracticalSignificance = "no"
	PracticallySignificantUncertain PracticalSignificance = "uncertain"
)

type Decision string

const (
	DecisionManualAnalysisRequired Decision = "ManualAnalysisRequired"
	DecisionMissingAnalysis        Decision = "MissingAnalysis"
	DecisionNoDifference           Decision = "NoDifference"
	DecisionVariantBarelyAhead     Decision = "VariantBarelyAhead"
	DecisionInconclusive           Decision = "Inconclusive"
	DecisionVariantAhead           Decision = "VariantAhead"
	DecisionVariantWins            Decision = "VariantWins"
)

// DiffCredibleIntervalStats classifies the 95% credible interval of a diff
// against zero and against the region of practical equivalence
// [-minDifference, minDifference].
type DiffCredibleIntervalStats struct {
	PracticallySignificant   PracticalSignificance `json:"practically_significant"`
	StatisticallySignificant bool                  `json:"statistically_significant"`
	IsPositive               bool                  `json:"is_positive"`
}

type Recommendation struct {
	AnalysisStrategy          schemas.AnalysisStrategy `json:"analysis_strategy"`
	Decision                  Decision                 `json:"decision"`
	ChosenVariationID         *int64                   `json:"chosen_variation_id,omitempty"`
	PracticallySignificant    *PracticalSignificance   `json:"practically_significant,omitempty"`
	StatisticallySignificant  *bool                    `json:"statistically_significant,omitempty"`
	StrongEnoughForDeployment bool                     `json:"strong_enough_for_deployment"`
}

// Policy constants for deciding whether the data supports acting.
const (
	minRunDays = 7

	noDifferenceMaxUncertainty       = 0.9
	variantBarelyAheadMaxUncertainty = 0.45
	variantAheadMaxUncertainty       = 1.5
)

// Platforms whose experiments are one-shot and never accumulate run time.
var runtimeExemptPlatforms = map[schemas.Platform]bool{
	schemas.PlatformEmail: true,
	schemas.PlatformPipe:  true,
}

func diffEstimate(analysis *schemas.Analysis, variationDiffKey string) (schemas.DistributionStats, bool) {
	if analysis == nil || analysis.MetricEstimates == nil {
		return schemas.DistributionStats{}, false
	}
	d, ok := analysis.MetricEstimates.Diffs[variationDiffKey]
	return d, ok
}

// GetDiffCredibleIntervalStats returns nil without error when there is no
// estimate for the diff. An interval whose top is below its bottom is an
// ErrInvalidMetricEstimates.
func GetDiffCredibleIntervalStats(analysis *schemas.Analysis, metricAssignment *schemas.MetricAssignment, variationDiffKey string) (*DiffCredibleIntervalStats, error) {
	diff, ok := diffEstimate(analysis, variationDiffKey)
	if !ok || metricAssignment == nil {
		return nil, nil
	}
	bottom, top := diff.CI95.Bottom, diff.CI95.Top
	if top < bottom {
		return nil, fmt.Errorf("%w (diff %s: bottom %v, top %v)", ErrInvalidMetricEstimates, variationDiffKey, bottom, top)
	}

	minDifference := metricAssignment.MinDifference
	practicallySignificant := PracticallySignificantUncertain
	switch {
	case minDifference <= bottom || top <= -minDifference:
		practicallySignificant = PracticallySignificantYes
	case -minDifference <= bottom && top <= minDifference:
		practicallySignificant = PracticallySignificantNo
	}

	return &DiffCredibleIntervalStats{
		PracticallySignificant:   practicallySignificant,
		StatisticallySignificant: bottom > 0 || top < 0,
		IsPositive:               bottom > 0,
	}, nil
}

// DecisionFromDiffCredibleIntervalStats maps the two significance flags to
// a decision.
func DecisionFromDiffCredibleIntervalStats(stats DiffCredibleIntervalStats) Decision {
	switch stats.PracticallySignificant {
	case PracticallySignificantNo:
		if stats.StatisticallySignificant {
			return DecisionVariantBarelyAhead
		}
		return DecisionNoDifference
	case PracticallySignificantUncertain:
		if stats.StatisticallySignificant {
			return DecisionVariantAhead
		}
		return DecisionInconclusive
	case PracticallySignificantYes:
		return DecisionVariantWins
	default:
		panic(fmt.Sprintf("unknown practical significance %q", stats.PracticallySignificant))
	}
}

func hasWinner(d Decision) bool {
	return d == DecisionVariantBarelyAhead || d == DecisionVariantAhead || d == DecisionVariantWins
}

// KruschkeUncertainty is the width of the 95% credible interval relative to
// the width of the region of practical equivalence.
func KruschkeUncertainty(diff schemas.DistributionStats, minDifference float64) float64 {
	return math.Abs(diff.CI95.Top-diff.CI95.Bottom) / (2 * minDifference)
}

func hasEnoughRuntime(experiment *schemas.Experiment, now time.Time) bool {
	return runtimeExemptPlatforms[experiment.Platform] || experiment.RunHours(now)/24 > minRunDays
}

// IsDataStrongEnough reports whether the evidence behind decision justifies
// deploying, as of now. It fails only on invalid estimates.
func IsDataStrongEnough(analysis *schemas.Analysis, decision Decision, experiment *schemas.Experiment, metricAssignment *schemas.MetricAssignment, variationDiffKey string, now time.Time) (bool, error) {
	var maxUncertainty float64
	switch decision {
	case DecisionVariantWins:
		return hasEnoughRuntime(experiment, now), nil
	case DecisionNoDifference:
		maxUncertainty = noDifferenceMaxUncertainty
	case DecisionVariantBarelyAhead:
		maxUncertainty = variantBarelyAheadMaxUncertainty
	case DecisionVariantAhead:
		maxUncertainty = variantAheadMaxUncertainty
	default:
		return false, nil
	}

	diff, ok := diffEstimate(analysis, variationDiffKey)
	if !ok || metricAssignment == nil {
		return false, nil
	}
	if diff.CI95.Top < diff.CI95.Bottom {
		return false, fmt.Errorf("%w (diff %s)", ErrInvalidMetricEstimates, variationDiffKey)
	}
	uncertainty := KruschkeUncertainty(diff, metricAssignment.MinDifference)
	return uncertainty < maxUncertainty && hasEnoughRuntime(experiment, now), nil
}

// GetMetricAssignmentRecommendation recommends a variation for one analysis
// of one metric assignment. Missing estimates or an assignment that is not
// part of the experiment yield DecisionMissingAnalysis.
func GetMetricAssignmentRecommendation(experiment *schemas.Experiment, metric *schemas.Metric, analysis *schemas.Analysis, variationDiffKey string, now time.Time) (Recommendation, error) {
	missing := Recommendation{Decision: DecisionMissingAnalysis}
	if analysis == nil {
		return missing, nil
	}
	missing.AnalysisStrategy = analysis.AnalysisStrategy

	metricAssignment := experiment.MetricAssignment(analysis.MetricAssignmentID)
	if metricAssignment == nil || metric == nil {
		return missing, nil
	}

	stats, err := GetDiffCredibleIntervalStats(analysis, metricAssignment, variationDiffKey)
	if err != nil {
		return Recommendation{}, err
	}
	if stats == nil {
		return missing, nil
	}

	decision := DecisionFromDiffCredibleIntervalStats(*stats)
	rec := Recommendation{
		AnalysisStrategy:         analysis.AnalysisStrategy,
		Decision:                 decision,
		PracticallySignificant:   &stats.PracticallySignificant,
		StatisticallySignificant: &stats.StatisticallySignificant,
	}

	if hasWinner(decision) {
		changeID, baseID, err := schemas.ParseVariationDiffKey(variationDiffKey)
		if err != nil {
			return Recommendation{}, err
		}
		chosen := baseID
		if stats.IsPositive == metric.HigherIsBetter {
			chosen = changeID
		}
		rec.ChosenVariationID = &chosen
	}

	rec.StrongEnoughForDeployment, err = IsDataStrongEnough(analysis, decision, experiment, metricAssignment, variationDiffKey, now)
	if err != nil {
		return Recommendation{}, err
	}
	return rec, nil
}

// GetAggregateMetricAssignmentRecommendation combines per-strategy
// recommendations into the one reported for targetStrategy. If strategies
// disagree on the chosen variation a person has to decide.
func GetAggregateMetricAssignmentRecommendation(recommendations []Recommendation, targetStrategy schemas.AnalysisStrategy) Recommendation {
	var target *Recommendation
	for i := range recommendations {
		if recommendations[i].AnalysisStrategy == targetStrategy {
			target = &recommendations[i]
			break
		}
	}
	if target == nil || target.Decision == DecisionMissingAnalysis {
		return Recommendation{AnalysisStrategy: targetStrategy, Decision: DecisionMissingAnalysis}
	}

	chosen := make(map[int64]bool)
	for _, r := range recommendations {
		if r.ChosenVariationID != nil {
			chosen[*r.ChosenVariationID] = true
		}
	}

	aggregate := *target
	if len(chosen) > 1 {
		aggregate.Decision = DecisionManualAnalysisRequired
		aggregate.ChosenVariationID = nil
	}
	return aggregate
}
