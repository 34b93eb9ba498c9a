package health

import (
	"math"
	"sort"
	"strconv"
)

type IndicationCode string

const (
	CodeNominal       IndicationCode = "nominal"
	CodePossibleIssue IndicationCode = "possible issue"
	CodeProbableIssue IndicationCode = "probable issue"
	CodeVeryLow       IndicationCode = "very low"
	CodeLow           IndicationCode = "low"
	CodeHigh          IndicationCode = "high"
	CodeVeryHigh      IndicationCode = "very high"
	CodeValueError    IndicationCode = "value error"
)

type Severity string

const (
	SeverityOk      Severity = "Ok"
	SeverityWarning Severity = "Warning"
	SeverityError   Severity = "Error"
)

// Indication is the verdict for one indicator value.
type Indication struct {
	Code           IndicationCode `json:"code"`
	Reason         string         `json:"reason"`
	Severity       Severity       `json:"severity"`
	Recommendation string         `json:"recommendation,omitempty"`
}

// Bracket classifies values in (previous bracket's Max, Max].
// Indication.Reason is filled in by Indicate.
type Bracket struct {
	Max        float64
	Indication Indication
}

// Indicate returns the indication of the lowest bracket whose Max is at
// least value. Values above every bracket, and NaN, are a value error.
func Indicate(brackets []Bracket, value float64) Indication {
	sorted := make([]Bracket, len(brackets))
	copy(sorted, brackets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Max < sorted[j].Max })

	for i, b := range sorted {
		if value > b.Max || math.IsNaN(value) {
			continue
		}
		lower := math.Inf(-1)
		if i > 0 {
			lower = sorted[i-1].Max
		}
		indication := b.Indication
		indication.Reason = formatBound(lower) + " < x ≤ " + formatBound(b.Max)
		return indication
	}

	return Indication{
		Code:     CodeValueError,
		Reason:   "Unexpected value",
		Severity: SeverityError,
	}
}

func formatBound(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "−∞"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
