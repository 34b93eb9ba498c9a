package health

import (
	"encoding/json"
	"math"
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
)

type Unit string

const (
	UnitPValue Unit = "p-value"
	UnitRatio  Unit = "ratio"
	UnitDays   Unit = "days"
)

// HealthIndicator is one diagnostic shown next to experiment results. Value
// may be NaN or infinite; Indication then reports a value error.
type HealthIndicator struct {
	Name       string
	Value      float64
	Unit       Unit
	Link       string
	Indication Indication
}

// MarshalJSON writes non-finite values as strings instead of failing.
func (h HealthIndicator) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name       string       `json:"name"`
		Value      schemas.Real `json:"value"`
		Unit       Unit         `json:"unit"`
		Link       string       `json:"link,omitempty"`
		Indication Indication   `json:"indication"`
	}{
		Name:       h.Name,
		Value:      schemas.Real(h.Value),
		Unit:       h.Unit,
		Link:       h.Link,
		Indication: h.Indication,
	})
}

type indicatorDefinition struct {
	name     string
	value    float64
	unit     Unit
	link     string
	brackets []Bracket
}

func (d indicatorDefinition) indicator() HealthIndicator {
	return HealthIndicator{
		Name:       d.name,
		Value:      d.value,
		Unit:       d.unit,
		Link:       d.link,
		Indication: Indicate(d.brackets, d.value),
	}
}

const docsBase = "docs/health-indicators.md"

// Platforms where assignment is not expected to follow the allocated
// proportions.
var assignmentHealthExemptPlatforms = map[schemas.Platform]bool{
	schemas.PlatformMlsales: true,
}

var pValueBrackets = []Bracket{
	{
		Max: 0.001,
		Indication: Indication{
			Code:           CodeProbableIssue,
			Severity:       SeverityError,
			Recommendation: "Assignment is very unlikely to match the allocation. Check the assignment code for bugs before trusting any result.",
		},
	},
	{
		Max: 0.05,
		Indication: Indication{
			Code:           CodePossibleIssue,
			Severity:       SeverityWarning,
			Recommendation: "If no other distribution indicator is off, the exposure event may depend on the variation. Consider another exposure event or an assignment-based analysis.",
		},
	},
	{
		Max:        1,
		Indication: Indication{Code: CodeNominal, Severity: SeverityOk},
	},
}

var crossoverBrackets = []Bracket{
	{Max: 0.01, Indication: Indication{Code: CodeNominal, Severity: SeverityOk}},
	{
		Max: 0.05,
		Indication: Indication{
			Code:           CodeHigh,
			Severity:       SeverityWarning,
			Recommendation: "Participants are seeing more than one variation. Check that assignment is sticky across sessions and devices.",
		},
	},
	{
		Max: 1,
		Indication: Indication{
			Code:           CodeVeryHigh,
			Severity:       SeverityError,
			Recommendation: "Too many participants saw more than one variation. Results are unlikely to be trustworthy.",
		},
	},
}

var spammerBrackets = []Bracket{
	{Max: 0.1, Indication: Indication{Code: CodeNominal, Severity: SeverityOk}},
	{
		Max: 0.4,
		Indication: Indication{
			Code:           CodeHigh,
			Severity:       SeverityWarning,
			Recommendation: "A large share of participants trigger an implausible number of events. Compare results with and without spammers.",
		},
	},
	{
		Max: 1,
		Indication: Indication{
			Code:           CodeVeryHigh,
			Severity:       SeverityError,
			Recommendation: "Most participants look like spammers. Check event tracking before interpreting results.",
		},
	},
}

const (
	runTimeTooShort = "Experiments should generally run at least 7 days before drawing conclusions."
	runTimeTooLong  = "The experiment has been running for a long time. Conclude it unless there is a specific reason to continue."
)

var runTimeBrackets = []Bracket{
	{Max: 3, Indication: Indication{Code: CodeVeryLow, Severity: SeverityWarning, Recommendation: runTimeTooShort}},
	{Max: 7, Indication: Indication{Code: CodeLow, Severity: SeverityWarning, Recommendation: runTimeTooShort}},
	{Max: 28, Indication: Indication{Code: CodeNominal, Severity: SeverityOk}},
	{Max: 42, Indication: Indication{Code: CodeHigh, Severity: SeverityWarning, Recommendation: runTimeTooLong}},
	{Max: math.Inf(1), Indication: Indication{Code: CodeVeryHigh, Severity: SeverityWarning, Recommendation: runTimeTooLong}},
}

// ComputeHealthIndicators classifies participant stats. Distribution
// indicators are skipped for platforms exempt from assignment health, and
// the exposed distribution only appears once anyone has been exposed.
func ComputeHealthIndicators(experiment *schemas.Experiment, stats ExperimentParticipantStats) []HealthIndicator {
	var defs []indicatorDefinition

	if !assignmentHealthExemptPlatforms[experiment.Platform] {
		defs = append(defs,
			indicatorDefinition{
				name:     "Assignment distribution",
				value:    stats.Probabilities.AssignedDistributionMatchingAllocated,
				unit:     UnitPValue,
				link:     docsBase + "#assignment-distribution",
				brackets: pValueBrackets,
			},
			indicatorDefinition{
				name:     "Assignment distribution without crossovers and spammers",
				value:    stats.Probabilities.AssignedNoSpammersNoCrossoversDistributionMatchingAllocated,
				unit:     UnitPValue,
				link:     docsBase + "#assignment-distribution",
				brackets: pValueBrackets,
			},
		)
		if r := stats.Ratios.Overall.ExposedToAssigned; r != 0 && !math.IsNaN(r) {
			defs = append(defs, indicatorDefinition{
				name:     "Assignment distribution of exposed participants",
				value:    stats.Probabilities.ExposedDistributionMatchingAllocated,
				unit:     UnitPValue,
				link:     docsBase + "#assignment-distribution",
				brackets: pValueBrackets,
			})
		}
	}

	defs = append(defs,
		indicatorDefinition{
			name:     "Ratio of crossovers to assigned",
			value:    stats.Ratios.Overall.AssignedCrossoversToAssigned,
			unit:     UnitRatio,
			link:     docsBase + "#crossovers",
			brackets: crossoverBrackets,
		},
		indicatorDefinition{
			name:     "Ratio of spammers to assigned",
			value:    stats.Ratios.Overall.AssignedSpammersToAssigned,
			unit:     UnitRatio,
			link:     docsBase + "#spammers",
			brackets: spammerBrackets,
		},
	)

	indicators := make([]HealthIndicator, 0, len(defs))
	for _, d := range defs {
		indicators = append(indicators, d.indicator())
	}
	return indicators
}

// ComputeExperimentHealthIndicators reports on the experiment itself, as
// of now. It needs no analyses.
func ComputeExperimentHealthIndicators(experiment *schemas.Experiment, now time.Time) []HealthIndicator {
	runTime := indicatorDefinition{
		name:     "Experiment run time",
		value:    experiment.RunHours(now) / 24,
		unit:     UnitDays,
		link:     docsBase + "#run-time",
		brackets: runTimeBrackets,
	}
	return []HealthIndicator{runTime.indicator()}
}
