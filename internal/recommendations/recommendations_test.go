package recommendations_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/abacus-exp/abacus/internal/recommendations"
	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	afterTenDays  = testutil.ExperimentStart.AddDate(0, 0, 10)
	afterFiveDays = testutil.ExperimentStart.AddDate(0, 0, 5)
)

func primaryAnalysis(strategy schemas.AnalysisStrategy, bottom, top float64) *schemas.Analysis {
	a := testutil.Analysis(testutil.PrimaryMetricAssignmentID, strategy, testutil.ExperimentStart,
		testutil.Participants(600, 400), testutil.Estimates(bottom, top))
	return &a
}

func assignment(minDifference float64) *schemas.MetricAssignment {
	return &schemas.MetricAssignment{MetricAssignmentID: testutil.PrimaryMetricAssignmentID, MinDifference: minDifference}
}

func metric(higherIsBetter bool) *schemas.Metric {
	m := testutil.Metrics()[0]
	m.HigherIsBetter = higherIsBetter
	return &m
}

func int64Ptr(v int64) *int64 { return &v }

func TestGetDiffCredibleIntervalStats_Missing(t *testing.T) {
	ma := assignment(0.01)

	stats, err := recommendations.GetDiffCredibleIntervalStats(nil, ma, testutil.DiffKey)
	require.NoError(t, err)
	assert.Nil(t, stats)

	noEstimates := testutil.Analysis(testutil.PrimaryMetricAssignmentID, schemas.AnalysisStrategyIttPure,
		testutil.ExperimentStart, testutil.Participants(1, 1), nil)
	stats, err = recommendations.GetDiffCredibleIntervalStats(&noEstimates, ma, testutil.DiffKey)
	require.NoError(t, err)
	assert.Nil(t, stats)

	stats, err = recommendations.GetDiffCredibleIntervalStats(primaryAnalysis(schemas.AnalysisStrategyIttPure, 0, 1), ma, "3_1")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestGetDiffCredibleIntervalStats_InvalidBounds(t *testing.T) {
	_, err := recommendations.GetDiffCredibleIntervalStats(primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.5, -0.5), assignment(0.01), testutil.DiffKey)

	require.Error(t, err)
	assert.True(t, errors.Is(err, recommendations.ErrInvalidMetricEstimates))
	assert.Contains(t, err.Error(), "invalid metricEstimates: bottom greater than top")
}

func TestGetDiffCredibleIntervalStats(t *testing.T) {
	tests := []struct {
		name        string
		bottom, top float64
		practical   recommendations.PracticalSignificance
		statistical bool
		positive    bool
	}{
		{"clearly above", 2, 3, recommendations.PracticallySignificantYes, true, true},
		{"clearly below", -3, -2, recommendations.PracticallySignificantYes, true, false},
		{"touching upper bound", 1, 3, recommendations.PracticallySignificantYes, true, true},
		{"touching lower bound", -3, -1, recommendations.PracticallySignificantYes, true, false},
		{"inside equivalence region", -0.5, 0.5, recommendations.PracticallySignificantNo, false, false},
		{"inside and positive", 0.2, 0.8, recommendations.PracticallySignificantNo, true, true},
		{"equal to equivalence region", -1, 1, recommendations.PracticallySignificantNo, false, false},
		{"straddling upper bound", 0.5, 1.5, recommendations.PracticallySignificantUncertain, true, true},
		{"straddling lower bound", -1.5, -0.5, recommendations.PracticallySignificantUncertain, true, false},
		{"wider than equivalence region", -2, 2, recommendations.PracticallySignificantUncertain, false, false},
		{"touching zero", 0, 0.5, recommendations.PracticallySignificantNo, false, false},
		{"not a number", math.NaN(), math.NaN(), recommendations.PracticallySignificantUncertain, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := recommendations.GetDiffCredibleIntervalStats(primaryAnalysis(schemas.AnalysisStrategyIttPure, tt.bottom, tt.top), assignment(1), testutil.DiffKey)
			require.NoError(t, err)
			require.NotNil(t, stats)
			assert.Equal(t, tt.practical, stats.PracticallySignificant)
			assert.Equal(t, tt.statistical, stats.StatisticallySignificant)
			assert.Equal(t, tt.positive, stats.IsPositive)
		})
	}
}

func TestGetDiffCredibleIntervalStats_NegativeWinner(t *testing.T) {
	stats, err := recommendations.GetDiffCredibleIntervalStats(primaryAnalysis(schemas.AnalysisStrategyIttPure, -20, -10), assignment(10), testutil.DiffKey)
	require.NoError(t, err)

	assert.Equal(t, recommendations.DiffCredibleIntervalStats{
		PracticallySignificant:   recommendations.PracticallySignificantYes,
		StatisticallySignificant: true,
		IsPositive:               false,
	}, *stats)
	assert.Equal(t, recommendations.DecisionVariantWins, recommendations.DecisionFromDiffCredibleIntervalStats(*stats))
}

func TestDecisionFromDiffCredibleIntervalStats(t *testing.T) {
	tests := []struct {
		practical   recommendations.PracticalSignificance
		statistical bool
		want        recommendations.Decision
	}{
		{recommendations.PracticallySignificantNo, false, recommendations.DecisionNoDifference},
		{recommendations.PracticallySignificantNo, true, recommendations.DecisionVariantBarelyAhead},
		{recommendations.PracticallySignificantUncertain, false, recommendations.DecisionInconclusive},
		{recommendations.PracticallySignificantUncertain, true, recommendations.DecisionVariantAhead},
		{recommendations.PracticallySignificantYes, false, recommendations.DecisionVariantWins},
		{recommendations.PracticallySignificantYes, true, recommendations.DecisionVariantWins},
	}

	for _, tt := range tests {
		got := recommendations.DecisionFromDiffCredibleIntervalStats(recommendations.DiffCredibleIntervalStats{
			PracticallySignificant:   tt.practical,
			StatisticallySignificant: tt.statistical,
		})
		if got != tt.want {
			t.Errorf("(%s, %v): got %s, want %s", tt.practical, tt.statistical, got, tt.want)
		}
	}
}

func TestDecisionFromDiffCredibleIntervalStats_Unknown(t *testing.T) {
	assert.Panics(t, func() {
		recommendations.DecisionFromDiffCredibleIntervalStats(recommendations.DiffCredibleIntervalStats{PracticallySignificant: "maybe"})
	})
}

func TestKruschkeUncertainty(t *testing.T) {
	assert.InDelta(t, 0.4, recommendations.KruschkeUncertainty(testutil.Interval(-0.004, 0.004), 0.01), 1e-9)
	assert.InDelta(t, 1, recommendations.KruschkeUncertainty(testutil.Interval(0, 2), 1), 1e-9)
}

func TestIsDataStrongEnough(t *testing.T) {
	tests := []struct {
		name        string
		decision    recommendations.Decision
		bottom, top float64
		platform    schemas.Platform
		now         time.Time
		want        bool
	}{
		{"no difference, narrow, long enough", recommendations.DecisionNoDifference, -0.004, 0.004, schemas.PlatformCalypso, afterTenDays, true},
		{"no difference, narrow, too short", recommendations.DecisionNoDifference, -0.004, 0.004, schemas.PlatformCalypso, afterFiveDays, false},
		{"no difference, narrow, email", recommendations.DecisionNoDifference, -0.004, 0.004, schemas.PlatformEmail, afterFiveDays, true},
		{"no difference, narrow, pipe", recommendations.DecisionNoDifference, -0.004, 0.004, schemas.PlatformPipe, afterFiveDays, true},
		{"no difference, wide", recommendations.DecisionNoDifference, -0.01, 0.01, schemas.PlatformCalypso, afterTenDays, false},
		{"barely ahead, narrow", recommendations.DecisionVariantBarelyAhead, 0.001, 0.009, schemas.PlatformCalypso, afterTenDays, true},
		{"barely ahead, wide", recommendations.DecisionVariantBarelyAhead, 0.0001, 0.0099, schemas.PlatformCalypso, afterTenDays, false},
		{"ahead, narrow", recommendations.DecisionVariantAhead, 0.005, 0.02, schemas.PlatformCalypso, afterTenDays, true},
		{"ahead, wide", recommendations.DecisionVariantAhead, 0.001, 0.04, schemas.PlatformCalypso, afterTenDays, false},
		{"wins, long enough", recommendations.DecisionVariantWins, 0.02, 0.05, schemas.PlatformCalypso, afterTenDays, true},
		{"wins, too short", recommendations.DecisionVariantWins, 0.02, 0.05, schemas.PlatformCalypso, afterFiveDays, false},
		{"wins, email, too short", recommendations.DecisionVariantWins, 0.02, 0.05, schemas.PlatformEmail, afterFiveDays, true},
		{"inconclusive", recommendations.DecisionInconclusive, -0.004, 0.004, schemas.PlatformCalypso, afterTenDays, false},
		{"missing analysis", recommendations.DecisionMissingAnalysis, -0.004, 0.004, schemas.PlatformCalypso, afterTenDays, false},
		{"manual analysis", recommendations.DecisionManualAnalysisRequired, -0.004, 0.004, schemas.PlatformCalypso, afterTenDays, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			experiment := testutil.Experiment()
			experiment.Platform = tt.platform

			got, err := recommendations.IsDataStrongEnough(primaryAnalysis(schemas.AnalysisStrategyIttPure, tt.bottom, tt.top),
				tt.decision, experiment, assignment(0.01), testutil.DiffKey, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsDataStrongEnough_StagingNeverRunsLongEnough(t *testing.T) {
	experiment := testutil.Experiment()
	experiment.Status = schemas.StatusStaging

	got, err := recommendations.IsDataStrongEnough(primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.02, 0.05),
		recommendations.DecisionVariantWins, experiment, assignment(0.01), testutil.DiffKey, afterTenDays)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsDataStrongEnough_DisabledUsesFullWindow(t *testing.T) {
	experiment := testutil.Experiment()
	experiment.Status = schemas.StatusDisabled

	got, err := recommendations.IsDataStrongEnough(primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.02, 0.05),
		recommendations.DecisionVariantWins, experiment, assignment(0.01), testutil.DiffKey, afterFiveDays)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIsDataStrongEnough_InvalidEstimates(t *testing.T) {
	_, err := recommendations.IsDataStrongEnough(primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.004, -0.004),
		recommendations.DecisionNoDifference, testutil.Experiment(), assignment(0.01), testutil.DiffKey, afterTenDays)
	assert.ErrorIs(t, err, recommendations.ErrInvalidMetricEstimates)
}

func TestGetMetricAssignmentRecommendation(t *testing.T) {
	experiment := testutil.Experiment()
	analysis := primaryAnalysis(schemas.AnalysisStrategyMittNoSpammersNoCrossovers, 0.02, 0.05)

	rec, err := recommendations.GetMetricAssignmentRecommendation(experiment, metric(true), analysis, testutil.DiffKey, afterTenDays)
	require.NoError(t, err)

	yes := recommendations.PracticallySignificantYes
	statistical := true
	assert.Equal(t, recommendations.Recommendation{
		AnalysisStrategy:          schemas.AnalysisStrategyMittNoSpammersNoCrossovers,
		Decision:                  recommendations.DecisionVariantWins,
		ChosenVariationID:         int64Ptr(testutil.TreatmentVariationID),
		PracticallySignificant:    &yes,
		StatisticallySignificant:  &statistical,
		StrongEnoughForDeployment: true,
	}, rec)
}

func TestGetMetricAssignmentRecommendation_ChosenVariation(t *testing.T) {
	tests := []struct {
		name           string
		higherIsBetter bool
		bottom, top    float64
		want           int64
	}{
		{"higher is better, increase", true, 0.02, 0.05, testutil.TreatmentVariationID},
		{"higher is better, decrease", true, -0.05, -0.02, testutil.ControlVariationID},
		{"lower is better, increase", false, 0.02, 0.05, testutil.ControlVariationID},
		{"lower is better, decrease", false, -0.05, -0.02, testutil.TreatmentVariationID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := recommendations.GetMetricAssignmentRecommendation(testutil.Experiment(), metric(tt.higherIsBetter),
				primaryAnalysis(schemas.AnalysisStrategyIttPure, tt.bottom, tt.top), testutil.DiffKey, afterTenDays)
			require.NoError(t, err)
			require.NotNil(t, rec.ChosenVariationID)
			assert.Equal(t, tt.want, *rec.ChosenVariationID)
		})
	}
}

func TestGetMetricAssignmentRecommendation_NoChosenVariation(t *testing.T) {
	rec, err := recommendations.GetMetricAssignmentRecommendation(testutil.Experiment(), metric(true),
		primaryAnalysis(schemas.AnalysisStrategyIttPure, -0.004, 0.004), testutil.DiffKey, afterTenDays)
	require.NoError(t, err)

	assert.Equal(t, recommendations.DecisionNoDifference, rec.Decision)
	assert.Nil(t, rec.ChosenVariationID)
	assert.True(t, rec.StrongEnoughForDeployment)
}

func TestGetMetricAssignmentRecommendation_Missing(t *testing.T) {
	experiment := testutil.Experiment()

	rec, err := recommendations.GetMetricAssignmentRecommendation(experiment, metric(true), nil, testutil.DiffKey, afterTenDays)
	require.NoError(t, err)
	assert.Equal(t, recommendations.DecisionMissingAnalysis, rec.Decision)

	noEstimates := testutil.Analysis(testutil.PrimaryMetricAssignmentID, schemas.AnalysisStrategyPpNaive,
		testutil.ExperimentStart, testutil.Participants(1, 1), nil)
	rec, err = recommendations.GetMetricAssignmentRecommendation(experiment, metric(true), &noEstimates, testutil.DiffKey, afterTenDays)
	require.NoError(t, err)
	assert.Equal(t, recommendations.Recommendation{
		AnalysisStrategy: schemas.AnalysisStrategyPpNaive,
		Decision:         recommendations.DecisionMissingAnalysis,
	}, rec)

	unknown := primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.02, 0.05)
	unknown.MetricAssignmentID = 999
	rec, err = recommendations.GetMetricAssignmentRecommendation(experiment, metric(true), unknown, testutil.DiffKey, afterTenDays)
	require.NoError(t, err)
	assert.Equal(t, recommendations.DecisionMissingAnalysis, rec.Decision)
	assert.False(t, rec.StrongEnoughForDeployment)
}

func TestGetMetricAssignmentRecommendation_Invalid(t *testing.T) {
	_, err := recommendations.GetMetricAssignmentRecommendation(testutil.Experiment(), metric(true),
		primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.05, 0.02), testutil.DiffKey, afterTenDays)
	assert.ErrorIs(t, err, recommendations.ErrInvalidMetricEstimates)
}

func TestGetMetricAssignmentRecommendation_Idempotent(t *testing.T) {
	experiment := testutil.Experiment()
	analysis := primaryAnalysis(schemas.AnalysisStrategyIttPure, 0.005, 0.02)

	first, err := recommendations.GetMetricAssignmentRecommendation(experiment, metric(true), analysis, testutil.DiffKey, afterTenDays)
	require.NoError(t, err)
	second, err := recommendations.GetMetricAssignmentRecommendation(experiment, metric(true), analysis, testutil.DiffKey, afterTenDays)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGetAggregateMetricAssignmentRecommendation(t *testing.T) {
	target := schemas.AnalysisStrategyMittNoSpammersNoCrossovers
	treatment := int64Ptr(testutil.TreatmentVariationID)
	control := int64Ptr(testutil.ControlVariationID)

	t.Run("agreeing strategies", func(t *testing.T) {
		recs := []recommendations.Recommendation{
			{AnalysisStrategy: schemas.AnalysisStrategyIttPure, Decision: recommendations.DecisionVariantAhead, ChosenVariationID: treatment},
			{AnalysisStrategy: target, Decision: recommendations.DecisionVariantWins, ChosenVariationID: treatment, StrongEnoughForDeployment: true},
			{AnalysisStrategy: schemas.AnalysisStrategyPpNaive, Decision: recommendations.DecisionInconclusive},
		}
		assert.Equal(t, recs[1], recommendations.GetAggregateMetricAssignmentRecommendation(recs, target))
	})

	t.Run("conflicting strategies", func(t *testing.T) {
		recs := []recommendations.Recommendation{
			{AnalysisStrategy: schemas.AnalysisStrategyIttPure, Decision: recommendations.DecisionVariantAhead, ChosenVariationID: control},
			{AnalysisStrategy: target, Decision: recommendations.DecisionVariantWins, ChosenVariationID: treatment, StrongEnoughForDeployment: true},
		}
		got := recommendations.GetAggregateMetricAssignmentRecommendation(recs, target)
		assert.Equal(t, recommendations.DecisionManualAnalysisRequired, got.Decision)
		assert.Nil(t, got.ChosenVariationID)
		assert.Equal(t, target, got.AnalysisStrategy)
		// Inputs are left untouched.
		assert.Equal(t, treatment, recs[1].ChosenVariationID)
	})

	t.Run("target missing", func(t *testing.T) {
		recs := []recommendations.Recommendation{
			{AnalysisStrategy: schemas.AnalysisStrategyIttPure, Decision: recommendations.DecisionVariantWins, ChosenVariationID: treatment},
		}
		assert.Equal(t, recommendations.Recommendation{
			AnalysisStrategy: target,
			Decision:         recommendations.DecisionMissingAnalysis,
		}, recommendations.GetAggregateMetricAssignmentRecommendation(recs, target))
	})

	t.Run("target without analysis", func(t *testing.T) {
		recs := []recommendations.Recommendation{
			{AnalysisStrategy: target, Decision: recommendations.DecisionMissingAnalysis},
			{AnalysisStrategy: schemas.AnalysisStrategyIttPure, Decision: recommendations.DecisionVariantWins, ChosenVariationID: treatment},
		}
		got := recommendations.GetAggregateMetricAssignmentRecommendation(recs, target)
		assert.Equal(t, recommendations.DecisionMissingAnalysis, got.Decision)
	})

	t.Run("no recommendations", func(t *testing.T) {
		got := recommendations.GetAggregateMetricAssignmentRecommendation(nil, target)
		assert.Equal(t, recommendations.DecisionMissingAnalysis, got.Decision)
	})
}
