package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
)

// SetupTestStore creates a test database and returns the store.
// Uses t.TempDir() for automatic cleanup on test completion.
func SetupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

var (
	ExperimentStart = time.Date(2020, 6, 4, 0, 0, 0, 0, time.UTC)
	ExperimentEnd   = time.Date(2020, 7, 4, 0, 0, 0, 0, time.UTC)
)

const (
	ControlVariationID   int64 = 1
	TreatmentVariationID int64 = 2

	PrimaryMetricAssignmentID   int64 = 123
	SecondaryMetricAssignmentID int64 = 124

	ConversionMetricID int64 = 1
	RevenueMetricID    int64 = 2
)

// DiffKey is the key of the treatment-vs-control diff.
var DiffKey = schemas.VariationDiffKey(TreatmentVariationID, ControlVariationID)

// Experiment returns a running two-variation experiment with a primary
// conversion metric (min difference 0.01) and a secondary revenue metric
// (min difference 0.5).
func Experiment() *schemas.Experiment {
	return &schemas.Experiment{
		ExperimentID:  1,
		Name:          "explat_test",
		Description:   "Experiment with things. Change stuff. Profit.",
		OwnerLogin:    "owner-nickname",
		Platform:      schemas.PlatformCalypso,
		Status:        schemas.StatusRunning,
		StartDatetime: ExperimentStart,
		EndDatetime:   ExperimentEnd,
		Variations: []schemas.Variation{
			{VariationID: ControlVariationID, Name: "control", IsDefault: true, AllocatedPercentage: 60},
			{VariationID: TreatmentVariationID, Name: "test", IsDefault: false, AllocatedPercentage: 40},
		},
		MetricAssignments: []schemas.MetricAssignment{
			{
				MetricAssignmentID: PrimaryMetricAssignmentID,
				MetricID:           ConversionMetricID,
				AttributionWindow:  schemas.AttributionWindowOneWeek,
				ChangeExpected:     true,
				IsPrimary:          true,
				MinDifference:      0.01,
			},
			{
				MetricAssignmentID: SecondaryMetricAssignmentID,
				MetricID:           RevenueMetricID,
				AttributionWindow:  schemas.AttributionWindowFourWeeks,
				ChangeExpected:     false,
				IsPrimary:          false,
				MinDifference:      0.5,
			},
		},
	}
}

func Metrics() []schemas.Metric {
	return []schemas.Metric{
		{
			MetricID:       ConversionMetricID,
			Name:           "signup_conversion",
			Description:    "Share of participants who sign up.",
			ParameterType:  schemas.MetricParameterTypeConversion,
			HigherIsBetter: true,
		},
		{
			MetricID:       RevenueMetricID,
			Name:           "refund_revenue",
			Description:    "Revenue refunded per participant.",
			ParameterType:  schemas.MetricParameterTypeRevenue,
			HigherIsBetter: false,
		},
	}
}

// Interval builds distribution stats whose credible intervals all equal
// [bottom, top].
func Interval(bottom, top float64) schemas.DistributionStats {
	ci := schemas.CredibleInterval{Bottom: bottom, Top: top}
	return schemas.DistributionStats{
		Mean: (bottom + top) / 2,
		CI50: ci,
		CI95: ci,
		CI99: ci,
	}
}

// Estimates returns metric estimates holding one treatment-vs-control diff.
func Estimates(bottom, top float64) *schemas.MetricEstimates {
	return &schemas.MetricEstimates{
		Variations: map[string]schemas.DistributionStats{
			"1": Interval(0.1, 0.2),
			"2": Interval(0.1+bottom, 0.2+top),
		},
		Diffs: map[string]schemas.DistributionStats{
			DiffKey: Interval(bottom, top),
		},
		Ratios: map[string]schemas.DistributionStats{
			DiffKey: Interval(1+bottom, 1+top),
		},
	}
}

// Participants builds participant stats for the two fixture variations.
func Participants(control, treatment int64) schemas.ParticipantStats {
	return schemas.ParticipantStats{
		"total":       control + treatment,
		"variation_1": control,
		"variation_2": treatment,
	}
}

func Analysis(metricAssignmentID int64, strategy schemas.AnalysisStrategy, day time.Time, participants schemas.ParticipantStats, estimates *schemas.MetricEstimates) schemas.Analysis {
	return schemas.Analysis{
		MetricAssignmentID: metricAssignmentID,
		AnalysisStrategy:   strategy,
		AnalysisDatetime:   day,
		ParticipantStats:   participants,
		MetricEstimates:    estimates,
	}
}

// Snapshot bundles the fixture experiment, its metrics and one analysis per
// strategy for the primary metric assignment.
func Snapshot() *schemas.Snapshot {
	day := ExperimentStart.AddDate(0, 0, 14)
	var analyses []schemas.Analysis
	for _, strategy := range schemas.AnalysisStrategies {
		analyses = append(analyses, Analysis(PrimaryMetricAssignmentID, strategy, day, Participants(600, 400), Estimates(0.02, 0.05)))
	}
	return &schemas.Snapshot{
		Experiment: *Experiment(),
		Metrics:    Metrics(),
		Analyses:   analyses,
	}
}
