package schemas

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AnalysisStrategy selects which participants an analysis counts.
type AnalysisStrategy string

const (
	AnalysisStrategyIttPure                    AnalysisStrategy = "itt_pure"
	AnalysisStrategyMittNoCrossovers           AnalysisStrategy = "mitt_no_crossovers"
	AnalysisStrategyMittNoSpammers             AnalysisStrategy = "mitt_no_spammers"
	AnalysisStrategyMittNoSpammersNoCrossovers AnalysisStrategy = "mitt_no_spammers_no_crossovers"
	AnalysisStrategyPpNaive                    AnalysisStrategy = "pp_naive"
)

// AnalysisStrategies lists every strategy in display order.
var AnalysisStrategies = []AnalysisStrategy{
	AnalysisStrategyIttPure,
	AnalysisStrategyMittNoCrossovers,
	AnalysisStrategyMittNoSpammers,
	AnalysisStrategyMittNoSpammersNoCrossovers,
	AnalysisStrategyPpNaive,
}

var analysisStrategyNames = map[AnalysisStrategy]string{
	AnalysisStrategyIttPure:                    "All participants",
	AnalysisStrategyMittNoCrossovers:           "Without crossovers",
	AnalysisStrategyMittNoSpammers:             "Without spammers",
	AnalysisStrategyMittNoSpammersNoCrossovers: "Without crossovers and spammers",
	AnalysisStrategyPpNaive:                    "Exposed without crossovers and spammers",
}

func (s AnalysisStrategy) String() string {
	if name, ok := analysisStrategyNames[s]; ok {
		return name
	}
	return string(s)
}

// CredibleInterval bounds may be infinite or NaN.
type CredibleInterval struct {
	Bottom float64
	Top    float64
}

// DistributionStats summarises one posterior distribution: a variation's
// metric value, or a pairwise difference or ratio between variations.
type DistributionStats struct {
	Mean float64
	CI50 CredibleInterval
	CI95 CredibleInterval
	CI99 CredibleInterval
}

// MetricEstimates diffs and ratios are keyed by VariationDiffKey.
type MetricEstimates struct {
	Variations map[string]DistributionStats `json:"variations"`
	Diffs      map[string]DistributionStats `json:"diffs"`
	Ratios     map[string]DistributionStats `json:"ratios"`
}

// ParticipantStats holds participant counts under one strategy, keyed
// "total" and "variation_{id}".
type ParticipantStats map[string]int64

func (p ParticipantStats) Total() int64 {
	return p["total"]
}

func (p ParticipantStats) Variation(variationID int64) int64 {
	return p[fmt.Sprintf("variation_%d", variationID)]
}

type Analysis struct {
	MetricAssignmentID int64            `json:"metric_assignment_id" validate:"gt=0"`
	AnalysisStrategy   AnalysisStrategy `json:"analysis_strategy" validate:"required,oneof=itt_pure mitt_no_crossovers mitt_no_spammers mitt_no_spammers_no_crossovers pp_naive"`
	AnalysisDatetime   time.Time        `json:"analysis_datetime" validate:"required"`
	ParticipantStats   ParticipantStats `json:"participant_stats"`
	MetricEstimates    *MetricEstimates `json:"metric_estimates"`
}

// LatestByStrategy keeps the most recent analysis for each strategy. When two
// analyses share a date the later one in the slice wins.
func LatestByStrategy(analyses []Analysis) map[AnalysisStrategy]*Analysis {
	latest := make(map[AnalysisStrategy]*Analysis)
	for i := range analyses {
		a := &analyses[i]
		if cur, ok := latest[a.AnalysisStrategy]; ok && cur.AnalysisDatetime.After(a.AnalysisDatetime) {
			continue
		}
		latest[a.AnalysisStrategy] = a
	}
	return latest
}

// ForMetricAssignment filters analyses down to one metric assignment.
func ForMetricAssignment(analyses []Analysis, metricAssignmentID int64) []Analysis {
	var out []Analysis
	for _, a := range analyses {
		if a.MetricAssignmentID == metricAssignmentID {
			out = append(out, a)
		}
	}
	return out
}

// VariationDiffKey builds the key of the change-vs-base diff estimate.
func VariationDiffKey(changeVariationID, baseVariationID int64) string {
	return fmt.Sprintf("%d_%d", changeVariationID, baseVariationID)
}

// ParseVariationDiffKey splits a "{change}_{base}" key.
func ParseVariationDiffKey(key string) (change, base int64, err error) {
	left, right, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, fmt.Errorf("invalid variation diff key %q", key)
	}
	change, err = strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid variation diff key %q: %w", key, err)
	}
	base, err = strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid variation diff key %q: %w", key, err)
	}
	return change, base, nil
}
