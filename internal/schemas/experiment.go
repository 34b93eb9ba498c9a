package schemas

import (
	"math"
	"time"
)

type Platform string

const (
	PlatformCalypso Platform = "calypso"
	PlatformWpcom   Platform = "wpcom"
	PlatformEmail   Platform = "email"
	PlatformPipe    Platform = "pipe"
	PlatformMlsales Platform = "mlsales"
)

type Status string

const (
	StatusStaging   Status = "staging"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDisabled  Status = "disabled"
)

// Variation is one arm of an experiment.
type Variation struct {
	VariationID         int64  `json:"variation_id" validate:"gte=0"`
	Name                string `json:"name" validate:"required,max=128"`
	IsDefault           bool   `json:"is_default"`
	AllocatedPercentage int    `json:"allocated_percentage" validate:"min=1,max=99"`
}

// ExposureEvent is an event that marks a participant as having actually
// seen the experiment.
type ExposureEvent struct {
	Event string            `json:"event" validate:"required"`
	Props map[string]string `json:"props,omitempty"`
}

type Experiment struct {
	ExperimentID        int64              `json:"experiment_id" validate:"gt=0"`
	Name                string             `json:"name" validate:"required,max=128"`
	Description         string             `json:"description"`
	OwnerLogin          string             `json:"owner_login"`
	Platform            Platform           `json:"platform" validate:"required,oneof=calypso wpcom email pipe mlsales"`
	Status              Status             `json:"status" validate:"required,oneof=staging running completed disabled"`
	StartDatetime       time.Time          `json:"start_datetime" validate:"required"`
	EndDatetime         time.Time          `json:"end_datetime" validate:"required"`
	Variations          []Variation        `json:"variations" validate:"required,min=2,dive"`
	MetricAssignments   []MetricAssignment `json:"metric_assignments" validate:"dive"`
	ExposureEvents      []ExposureEvent    `json:"exposure_events,omitempty" validate:"dive"`
	DeployedVariationID *int64             `json:"deployed_variation_id,omitempty"`
	EndReason           string             `json:"end_reason,omitempty"`
	ConclusionURL       string             `json:"conclusion_url,omitempty" validate:"omitempty,url"`
}

// DefaultVariation returns the variation marked as default, or nil.
func (e *Experiment) DefaultVariation() *Variation {
	for i := range e.Variations {
		if e.Variations[i].IsDefault {
			return &e.Variations[i]
		}
	}
	return nil
}

// NonDefaultVariations returns every variation except the default one, in
// definition order.
func (e *Experiment) NonDefaultVariations() []Variation {
	var out []Variation
	for _, v := range e.Variations {
		if !v.IsDefault {
			out = append(out, v)
		}
	}
	return out
}

func (e *Experiment) Variation(id int64) *Variation {
	for i := range e.Variations {
		if e.Variations[i].VariationID == id {
			return &e.Variations[i]
		}
	}
	return nil
}

func (e *Experiment) MetricAssignment(id int64) *MetricAssignment {
	for i := range e.MetricAssignments {
		if e.MetricAssignments[i].MetricAssignmentID == id {
			return &e.MetricAssignments[i]
		}
	}
	return nil
}

// PrimaryMetricAssignment returns the assignment flagged as primary, or nil.
func (e *Experiment) PrimaryMetricAssignment() *MetricAssignment {
	for i := range e.MetricAssignments {
		if e.MetricAssignments[i].IsPrimary {
			return &e.MetricAssignments[i]
		}
	}
	return nil
}

// DefaultAnalysisStrategy is the strategy results are reported against:
// exposed participants when the experiment declares exposure events,
// assigned participants without crossovers and spammers otherwise.
func (e *Experiment) DefaultAnalysisStrategy() AnalysisStrategy {
	if len(e.ExposureEvents) > 0 {
		return AnalysisStrategyPpNaive
	}
	return AnalysisStrategyMittNoSpammersNoCrossovers
}

// RunHours returns the whole hours the experiment has been live as of now.
// Staging experiments have not run at all; completed and disabled ones span
// their whole start to end window.
func (e *Experiment) RunHours(now time.Time) float64 {
	end := now
	switch e.Status {
	case StatusStaging:
		return 0
	case StatusCompleted, StatusDisabled:
		end = e.EndDatetime
	default:
		if !e.EndDatetime.IsZero() && e.EndDatetime.Before(now) {
			end = e.EndDatetime
		}
	}
	return math.Trunc(end.Sub(e.StartDatetime).Hours())
}
