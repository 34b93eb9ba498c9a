package health

import (
	"math"

	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ParticipantCounts breaks one bucket (the whole experiment or a single
// variation) down by how participants were filtered.
type ParticipantCounts struct {
	Assigned                       int64 `json:"assigned"`
	AssignedCrossovers             int64 `json:"assigned_crossovers"`
	AssignedSpammers               int64 `json:"assigned_spammers"`
	AssignedNoSpammersNoCrossovers int64 `json:"assigned_no_spammers_no_crossovers"`
	Exposed                        int64 `json:"exposed"`
}

type ExperimentParticipantCounts struct {
	Total      ParticipantCounts           `json:"total"`
	Variations map[int64]ParticipantCounts `json:"variations"`
}

// Ratios are relative to the bucket's assigned count and may be NaN or
// infinite when nobody was assigned.
type Ratios struct {
	ExposedToAssigned                        float64
	AssignedSpammersToAssigned               float64
	AssignedCrossoversToAssigned             float64
	AssignedNoSpammersNoCrossoversToAssigned float64
}

// VariationRatios adds each count's share of the experiment-wide total.
type VariationRatios struct {
	Ratios
	ExposedToTotalExposed                                            float64
	AssignedToTotalAssigned                                          float64
	AssignedSpammersToTotalAssignedSpammers                          float64
	AssignedCrossoversToTotalAssignedCrossovers                      float64
	AssignedNoSpammersNoCrossoversToTotalAssignedNoSpammersNoCrossovers float64
}

type ExperimentRatios struct {
	Overall    Ratios
	Variations map[int64]VariationRatios
}

// DistributionProbabilities are goodness-of-fit p-values of the observed
// per-variation counts against the allocated proportions.
type DistributionProbabilities struct {
	AssignedDistributionMatchingAllocated                       float64
	AssignedNoSpammersNoCrossoversDistributionMatchingAllocated float64
	ExposedDistributionMatchingAllocated                        float64
}

type ExperimentParticipantStats struct {
	Counts        ExperimentParticipantCounts
	Ratios        ExperimentRatios
	Probabilities DistributionProbabilities
}

// strategyCounts reads the total and per-variation counts of one strategy,
// defaulting to zero when the strategy has no analysis.
type strategyCounts struct {
	total      int64
	variations map[int64]int64
}

func countsFor(experiment *schemas.Experiment, analysis *schemas.Analysis) strategyCounts {
	c := strategyCounts{variations: make(map[int64]int64, len(experiment.Variations))}
	for _, v := range experiment.Variations {
		c.variations[v.VariationID] = 0
	}
	if analysis == nil {
		return c
	}
	c.total = analysis.ParticipantStats.Total()
	for _, v := range experiment.Variations {
		c.variations[v.VariationID] = analysis.ParticipantStats.Variation(v.VariationID)
	}
	return c
}

// ComputeParticipantCounts derives participant counts from the latest
// analysis of each strategy.
func ComputeParticipantCounts(experiment *schemas.Experiment, analysesByStrategy map[schemas.AnalysisStrategy]*schemas.Analysis) ExperimentParticipantCounts {
	itt := countsFor(experiment, analysesByStrategy[schemas.AnalysisStrategyIttPure])
	noCrossovers := countsFor(experiment, analysesByStrategy[schemas.AnalysisStrategyMittNoCrossovers])
	noSpammers := countsFor(experiment, analysesByStrategy[schemas.AnalysisStrategyMittNoSpammers])
	clean := countsFor(experiment, analysesByStrategy[schemas.AnalysisStrategyMittNoSpammersNoCrossovers])
	exposed := countsFor(experiment, analysesByStrategy[schemas.AnalysisStrategyPpNaive])

	bucket := func(assigned, withoutCrossovers, withoutSpammers, cleanCount, exposedCount int64) ParticipantCounts {
		return ParticipantCounts{
			Assigned:                       assigned,
			AssignedCrossovers:             assigned - withoutCrossovers,
			AssignedSpammers:               assigned - withoutSpammers,
			AssignedNoSpammersNoCrossovers: cleanCount,
			Exposed:                        exposedCount,
		}
	}

	counts := ExperimentParticipantCounts{
		Total:      bucket(itt.total, noCrossovers.total, noSpammers.total, clean.total, exposed.total),
		Variations: make(map[int64]ParticipantCounts, len(experiment.Variations)),
	}
	for _, v := range experiment.Variations {
		id := v.VariationID
		counts.Variations[id] = bucket(itt.variations[id], noCrossovers.variations[id], noSpammers.variations[id], clean.variations[id], exposed.variations[id])
	}
	return counts
}

func ratio(numerator, denominator int64) float64 {
	return float64(numerator) / float64(denominator)
}

func ratiosOf(c ParticipantCounts) Ratios {
	return Ratios{
		ExposedToAssigned:                        ratio(c.Exposed, c.Assigned),
		AssignedSpammersToAssigned:               ratio(c.AssignedSpammers, c.Assigned),
		AssignedCrossoversToAssigned:             ratio(c.AssignedCrossovers, c.Assigned),
		AssignedNoSpammersNoCrossoversToAssigned: ratio(c.AssignedNoSpammersNoCrossovers, c.Assigned),
	}
}

// ComputeParticipantStats derives counts, ratios and allocation-matching
// p-values from the latest analysis of each strategy.
func ComputeParticipantStats(experiment *schemas.Experiment, analysesByStrategy map[schemas.AnalysisStrategy]*schemas.Analysis) ExperimentParticipantStats {
	counts := ComputeParticipantCounts(experiment, analysesByStrategy)
	total := counts.Total

	ratios := ExperimentRatios{
		Overall:    ratiosOf(total),
		Variations: make(map[int64]VariationRatios, len(experiment.Variations)),
	}
	for id, c := range counts.Variations {
		vr := VariationRatios{Ratios: ratiosOf(c)}
		vr.ExposedToTotalExposed = ratio(c.Exposed, total.Exposed)
		vr.AssignedToTotalAssigned = ratio(c.Assigned, total.Assigned)
		vr.AssignedSpammersToTotalAssignedSpammers = ratio(c.AssignedSpammers, total.AssignedSpammers)
		vr.AssignedCrossoversToTotalAssignedCrossovers = ratio(c.AssignedCrossovers, total.AssignedCrossovers)
		vr.AssignedNoSpammersNoCrossoversToTotalAssignedNoSpammersNoCrossovers = ratio(c.AssignedNoSpammersNoCrossovers, total.AssignedNoSpammersNoCrossovers)
		ratios.Variations[id] = vr
	}

	observed := func(pick func(ParticipantCounts) int64) []float64 {
		out := make([]float64, len(experiment.Variations))
		for i, v := range experiment.Variations {
			out[i] = float64(pick(counts.Variations[v.VariationID]))
		}
		return out
	}

	var probabilities DistributionProbabilities
	probabilities.AssignedDistributionMatchingAllocated = DistributionMatchingAllocatedProbability(experiment,
		observed(func(c ParticipantCounts) int64 { return c.Assigned }))
	probabilities.AssignedNoSpammersNoCrossoversDistributionMatchingAllocated = DistributionMatchingAllocatedProbability(experiment,
		observed(func(c ParticipantCounts) int64 { return c.AssignedNoSpammersNoCrossovers }))
	probabilities.ExposedDistributionMatchingAllocated = DistributionMatchingAllocatedProbability(experiment,
		observed(func(c ParticipantCounts) int64 { return c.Exposed }))

	return ExperimentParticipantStats{
		Counts:        counts,
		Ratios:        ratios,
		Probabilities: probabilities,
	}
}

// DistributionMatchingAllocatedProbability runs a Pearson chi-squared
// goodness-of-fit test of per-variation counts (in experiment.Variations
// order) against the allocated percentages, normalised by their total. It
// returns the p-value, or NaN when the test is undefined.
func DistributionMatchingAllocatedProbability(experiment *schemas.Experiment, observed []float64) float64 {
	if len(observed) != len(experiment.Variations) || len(observed) < 2 {
		return math.NaN()
	}

	allocations := make([]float64, len(experiment.Variations))
	for i, v := range experiment.Variations {
		allocations[i] = float64(v.AllocatedPercentage)
	}
	totalAllocated, err := stats.Sum(allocations)
	if err != nil {
		return math.NaN()
	}
	totalObserved, err := stats.Sum(observed)
	if err != nil {
		return math.NaN()
	}

	contributions := make(stats.Float64Data, len(observed))
	for i, o := range observed {
		expected := totalObserved * allocations[i] / totalAllocated
		contributions[i] = (o - expected) * (o - expected) / expected
	}
	chiSquared, err := contributions.Sum()
	if err != nil || math.IsNaN(chiSquared) {
		return math.NaN()
	}

	dist := distuv.ChiSquared{K: float64(len(observed) - 1)}
	return dist.Survival(chiSquared)
}
