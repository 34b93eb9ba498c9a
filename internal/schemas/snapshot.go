package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is everything known about one experiment at a point in time: its
// definition, the metrics it is assigned, and the analyses produced so far.
type Snapshot struct {
	Experiment Experiment `json:"experiment"`
	Metrics    []Metric   `json:"metrics" validate:"dive"`
	Analyses   []Analysis `json:"analyses" validate:"dive"`
}

// Metric returns the snapshot's metric with the given id, or nil.
func (s *Snapshot) Metric(id int64) *Metric {
	for i := range s.Metrics {
		if s.Metrics[i].MetricID == id {
			return &s.Metrics[i]
		}
	}
	return nil
}

// Validate checks the experiment and that every reference inside the
// snapshot resolves.
func (s *Snapshot) Validate() error {
	if err := describe(validate.Struct(s)); err != nil {
		return err
	}
	for _, ma := range s.Experiment.MetricAssignments {
		if s.Metric(ma.MetricID) == nil {
			return fmt.Errorf("%w: metric assignment %d references unknown metric %d", ErrInvalid, ma.MetricAssignmentID, ma.MetricID)
		}
	}
	for _, a := range s.Analyses {
		if s.Experiment.MetricAssignment(a.MetricAssignmentID) == nil {
			return fmt.Errorf("%w: analysis references unknown metric assignment %d", ErrInvalid, a.MetricAssignmentID)
		}
	}
	return nil
}

// ReadSnapshotFile decodes a JSON or YAML snapshot, chosen by extension.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeSnapshotYAML(f)
	default:
		return DecodeSnapshotJSON(f)
	}
}

func DecodeSnapshotJSON(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &s, nil
}

// DecodeSnapshotYAML reads YAML by converting it to JSON, so both formats
// share one set of field names and the non-finite number handling of Real.
func DecodeSnapshotYAML(r io.Reader) (*Snapshot, error) {
	var doc interface{}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	data, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to convert snapshot: %w", err)
	}
	return DecodeSnapshotJSON(bytes.NewReader(data))
}

// jsonCompatible rewrites a decoded YAML tree so encoding/json accepts it:
// non-string map keys become strings and .nan/.inf become Real strings.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Real(t)
		}
		return t
	default:
		return v
	}
}
