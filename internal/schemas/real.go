package schemas

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Real is a float64 that survives JSON round trips when it is NaN or
// infinite. Non-finite values are written as the strings "NaN", "Infinity"
// and "-Infinity"; null reads back as NaN.
type Real float64

func (r Real) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (r *Real) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*r = Real(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN", "nan":
			*r = Real(math.NaN())
		case "Infinity", "+Infinity", "inf", "+inf":
			*r = Real(math.Inf(1))
		case "-Infinity", "-inf":
			*r = Real(math.Inf(-1))
		default:
			return fmt.Errorf("invalid real %q", s)
		}
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid real %s: %w", s, err)
	}
	*r = Real(f)
	return nil
}

// distributionStatsJSON is the flat shape the analysis pipeline emits.
type distributionStatsJSON struct {
	Mean     Real `json:"mean"`
	Bottom50 Real `json:"bottom_50"`
	Top50    Real `json:"top_50"`
	Bottom95 Real `json:"bottom_95"`
	Top95    Real `json:"top_95"`
	Bottom99 Real `json:"bottom_99"`
	Top99    Real `json:"top_99"`
}

func (d DistributionStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(distributionStatsJSON{
		Mean:     Real(d.Mean),
		Bottom50: Real(d.CI50.Bottom),
		Top50:    Real(d.CI50.Top),
		Bottom95: Real(d.CI95.Bottom),
		Top95:    Real(d.CI95.Top),
		Bottom99: Real(d.CI99.Bottom),
		Top99:    Real(d.CI99.Top),
	})
}

func (d *DistributionStats) UnmarshalJSON(data []byte) error {
	var w distributionStatsJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to unmarshal distribution stats: %w", err)
	}
	*d = DistributionStats{
		Mean: float64(w.Mean),
		CI50: CredibleInterval{Bottom: float64(w.Bottom50), Top: float64(w.Top50)},
		CI95: CredibleInterval{Bottom: float64(w.Bottom95), Top: float64(w.Top95)},
		CI99: CredibleInterval{Bottom: float64(w.Bottom99), Top: float64(w.Top99)},
	}
	return nil
}
