package recommendations

import (
	"fmt"
	"sort"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
)

// MetricAssignmentSummary is the recommendation for one metric assignment
// and one non-default variation compared against the default.
type MetricAssignmentSummary struct {
	MetricAssignment schemas.MetricAssignment
	Metric           schemas.Metric
	VariationDiffKey string
	// Diff is the default strategy's latest diff estimate, nil when missing.
	Diff             *schemas.DistributionStats
	AnalysisDatetime time.Time
	Recommendations  []Recommendation
	Aggregate        Recommendation
}

// SummarizeExperiment recommends, for every metric assignment, using the
// latest analysis of each strategy and aggregating towards the experiment's
// default strategy. The primary assignment comes first.
func SummarizeExperiment(experiment *schemas.Experiment, metrics []schemas.Metric, analyses []schemas.Analysis, now time.Time) ([]MetricAssignmentSummary, error) {
	defaultVariation := experiment.DefaultVariation()
	if defaultVariation == nil {
		return nil, fmt.Errorf("experiment %d has no default variation", experiment.ExperimentID)
	}
	metricsByID := make(map[int64]*schemas.Metric, len(metrics))
	for i := range metrics {
		metricsByID[metrics[i].MetricID] = &metrics[i]
	}
	target := experiment.DefaultAnalysisStrategy()

	assignments := make([]schemas.MetricAssignment, len(experiment.MetricAssignments))
	copy(assignments, experiment.MetricAssignments)
	sort.SliceStable(assignments, func(i, j int) bool {
		return assignments[i].IsPrimary && !assignments[j].IsPrimary
	})

	var summaries []MetricAssignmentSummary
	for _, ma := range assignments {
		metric := metricsByID[ma.MetricID]
		if metric == nil {
			return nil, fmt.Errorf("metric %d of assignment %d not found", ma.MetricID, ma.MetricAssignmentID)
		}
		latest := schemas.LatestByStrategy(schemas.ForMetricAssignment(analyses, ma.MetricAssignmentID))

		for _, variation := range experiment.NonDefaultVariations() {
			key := schemas.VariationDiffKey(variation.VariationID, defaultVariation.VariationID)
			summary := MetricAssignmentSummary{
				MetricAssignment: ma,
				Metric:           *metric,
				VariationDiffKey: key,
			}

			for _, strategy := range schemas.AnalysisStrategies {
				analysis, ok := latest[strategy]
				if !ok {
					continue
				}
				rec, err := GetMetricAssignmentRecommendation(experiment, metric, analysis, key, now)
				if err != nil {
					return nil, fmt.Errorf("metric assignment %d, %s: %w", ma.MetricAssignmentID, strategy, err)
				}
				summary.Recommendations = append(summary.Recommendations, rec)

				if strategy == target {
					summary.AnalysisDatetime = analysis.AnalysisDatetime
					if diff, ok := diffEstimate(analysis, key); ok {
						summary.Diff = &diff
					}
				}
			}

			summary.Aggregate = GetAggregateMetricAssignmentRecommendation(summary.Recommendations, target)
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}
