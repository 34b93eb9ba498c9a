package schemas

import (
	"errors"
	"fmt"
)

var ErrUnknownParameterType = errors.New("unknown metric parameter type")

// MetricParameterType discriminates how a metric is measured.
type MetricParameterType string

const (
	MetricParameterTypeConversion MetricParameterType = "conversion"
	MetricParameterTypeRevenue    MetricParameterType = "revenue"
)

type Metric struct {
	MetricID       int64               `json:"metric_id" validate:"gt=0"`
	Name           string              `json:"name" validate:"required,max=128"`
	Description    string              `json:"description"`
	ParameterType  MetricParameterType `json:"parameter_type" validate:"required,oneof=conversion revenue"`
	HigherIsBetter bool                `json:"higher_is_better"`
}

// AttributionWindowSeconds is how long after assignment an event still
// counts towards a metric.
type AttributionWindowSeconds int64

const (
	AttributionWindowOneHour   AttributionWindowSeconds = 3600
	AttributionWindowSixHours  AttributionWindowSeconds = 21600
	AttributionWindowOneDay    AttributionWindowSeconds = 86400
	AttributionWindowThreeDays AttributionWindowSeconds = 259200
	AttributionWindowOneWeek   AttributionWindowSeconds = 604800
	AttributionWindowTwoWeeks  AttributionWindowSeconds = 1209600
	AttributionWindowFourWeeks AttributionWindowSeconds = 2419200
)

var attributionWindowNames = map[AttributionWindowSeconds]string{
	AttributionWindowOneHour:   "1 hour",
	AttributionWindowSixHours:  "6 hours",
	AttributionWindowOneDay:    "1 day",
	AttributionWindowThreeDays: "3 days",
	AttributionWindowOneWeek:   "1 week",
	AttributionWindowTwoWeeks:  "2 weeks",
	AttributionWindowFourWeeks: "4 weeks",
}

func (w AttributionWindowSeconds) String() string {
	if name, ok := attributionWindowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("%d seconds", int64(w))
}

// MetricAssignment binds a metric to an experiment. MinDifference is the
// half-width of the region of practical equivalence, in the metric's unit.
type MetricAssignment struct {
	MetricAssignmentID int64                    `json:"metric_assignment_id" validate:"gt=0"`
	MetricID           int64                    `json:"metric_id" validate:"gt=0"`
	AttributionWindow  AttributionWindowSeconds `json:"attribution_window_seconds" validate:"oneof=3600 21600 86400 259200 604800 1209600 2419200"`
	ChangeExpected     bool                     `json:"change_expected"`
	IsPrimary          bool                     `json:"is_primary"`
	MinDifference      float64                  `json:"min_difference" validate:"gt=0"`
}

// FormatDifference renders a difference in the metric's natural unit:
// percentage points for conversion metrics, dollars for revenue metrics.
func (m *Metric) FormatDifference(d float64) (string, error) {
	switch m.ParameterType {
	case MetricParameterTypeConversion:
		return fmt.Sprintf("%.2f pp", d*100), nil
	case MetricParameterTypeRevenue:
		return fmt.Sprintf("$%.2f", d), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownParameterType, m.ParameterType)
	}
}
