package schemas

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalid = errors.New("invalid")

// validate is shared; validator.Validate caches struct metadata and is safe
// for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterStructValidation(experimentStructLevel, Experiment{})
}

func experimentStructLevel(sl validator.StructLevel) {
	e := sl.Current().Interface().(Experiment)

	defaults, allocated := 0, 0
	seen := make(map[int64]bool, len(e.Variations))
	for _, v := range e.Variations {
		if v.IsDefault {
			defaults++
		}
		allocated += v.AllocatedPercentage
		if seen[v.VariationID] {
			sl.ReportError(e.Variations, "variations", "Variations", "unique_variation_id", fmt.Sprint(v.VariationID))
		}
		seen[v.VariationID] = true
	}
	if defaults != 1 {
		sl.ReportError(e.Variations, "variations", "Variations", "one_default", "")
	}
	if allocated > 100 {
		sl.ReportError(e.Variations, "variations", "Variations", "max_total_allocation", "100")
	}

	if !e.EndDatetime.After(e.StartDatetime) {
		sl.ReportError(e.EndDatetime, "end_datetime", "EndDatetime", "gtfield", "start_datetime")
	}

	primaries := 0
	for _, ma := range e.MetricAssignments {
		if ma.IsPrimary {
			primaries++
		}
	}
	if len(e.MetricAssignments) > 0 && primaries != 1 {
		sl.ReportError(e.MetricAssignments, "metric_assignments", "MetricAssignments", "one_primary", "")
	}
}

// ValidateExperiment checks field constraints and the cross-field rules of an
// experiment definition: one default variation, total allocation at most
// 100, one primary metric assignment.
func ValidateExperiment(e *Experiment) error {
	return describe(validate.Struct(e))
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
