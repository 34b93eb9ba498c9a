package health

import (
	"time"

	"github.com/abacus-exp/abacus/internal/schemas"
)

// Report is every indicator for one experiment as of a point in time.
type Report struct {
	ExperimentID       int64                       `json:"experiment_id"`
	MetricAssignmentID int64                       `json:"metric_assignment_id,omitempty"`
	Counts             ExperimentParticipantCounts `json:"participant_counts"`
	Experiment         []HealthIndicator           `json:"experiment_indicators"`
	Participants       []HealthIndicator           `json:"participant_indicators"`
}

// Assess builds the health report of an experiment. Participant indicators
// use the latest analyses of the primary metric assignment, since every
// assignment shares the same participants.
func Assess(experiment *schemas.Experiment, analyses []schemas.Analysis, now time.Time) Report {
	report := Report{
		ExperimentID: experiment.ExperimentID,
		Experiment:   ComputeExperimentHealthIndicators(experiment, now),
	}

	ma := experiment.PrimaryMetricAssignment()
	if ma == nil && len(experiment.MetricAssignments) > 0 {
		ma = &experiment.MetricAssignments[0]
	}
	var latest map[schemas.AnalysisStrategy]*schemas.Analysis
	if ma != nil {
		report.MetricAssignmentID = ma.MetricAssignmentID
		latest = schemas.LatestByStrategy(schemas.ForMetricAssignment(analyses, ma.MetricAssignmentID))
	}

	stats := ComputeParticipantStats(experiment, latest)
	report.Counts = stats.Counts
	report.Participants = ComputeHealthIndicators(experiment, stats)
	return report
}

// Worst returns the most severe indication across the report.
func (r Report) Worst() Severity {
	worst := SeverityOk
	for _, group := range [][]HealthIndicator{r.Experiment, r.Participants} {
		for _, ind := range group {
			switch ind.Indication.Severity {
			case SeverityError:
				return SeverityError
			case SeverityWarning:
				worst = SeverityWarning
			}
		}
	}
	return worst
}
