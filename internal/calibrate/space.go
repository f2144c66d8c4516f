// Package calibrate searches a discretized (saturation, decay, scale factor)
// grid for the parameters that best reconstruct an observed revenue series.
package calibrate

import (
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/mmm-cli/internal/config"
	"github.com/sells-group/mmm-cli/internal/model"
)

// Space is the fully expanded search grid.
type Space struct {
	Saturations   []float64
	Decays        []float64
	ScaleFactors  []float64
	BaselineSpend float64
}

// NewSpace expands the configured ranges into an explicit grid.
func NewSpace(cfg config.CalibrationConfig) (Space, error) {
	sats, err := Linspace("saturation_power_range", cfg.SaturationPowerRange)
	if err != nil {
		return Space{}, err
	}
	decays, err := Linspace("decay_range", cfg.DecayRange)
	if err != nil {
		return Space{}, err
	}
	s := Space{
		Saturations:   sats,
		Decays:        decays,
		ScaleFactors:  append([]float64(nil), cfg.RevenueScaleFactors...),
		BaselineSpend: cfg.BaselineSpendDefault,
	}
	if err := s.Validate(); err != nil {
		return Space{}, err
	}
	return s, nil
}

// Validate checks that every axis is non-empty and the baseline is positive.
func (s Space) Validate() error {
	switch {
	case len(s.Saturations) == 0:
		return model.NewMalformedInput("saturation_power_range", "no grid points")
	case len(s.Decays) == 0:
		return model.NewMalformedInput("decay_range", "no grid points")
	case len(s.ScaleFactors) == 0:
		return model.NewMalformedInput("revenue_scale_factors", "at least one scale factor is required")
	case !(s.BaselineSpend > 0):
		return model.NewMalformedInput("baseline_spend_default", "must be positive")
	}
	for _, f := range s.ScaleFactors {
		if !(f > 0) {
			return model.NewMalformedInput("revenue_scale_factors", "scale factors must be positive")
		}
	}
	return nil
}

// Size returns the number of candidates in the grid.
func (s Space) Size() int {
	return len(s.Saturations) * len(s.Decays) * len(s.ScaleFactors)
}

// Candidates enumerates the Cartesian product with saturation varying
// slowest and scale factor fastest.
func (s Space) Candidates() []model.Candidate {
	out := make([]model.Candidate, 0, s.Size())
	for _, sat := range s.Saturations {
		for _, decay := range s.Decays {
			for _, scale := range s.ScaleFactors {
				out = append(out, model.Candidate{Saturation: sat, Decay: decay, ScaleFactor: scale})
			}
		}
	}
	return out
}

// Linspace returns r.Points evenly spaced values from r.Min to r.Max
// inclusive. A single point yields Min.
func Linspace(name string, r config.RangeConfig) ([]float64, error) {
	if r.Min > r.Max {
		return nil, model.NewMalformedInput(name, "range min > max")
	}
	if r.Points < 1 {
		return nil, model.NewMalformedInput(name, "points must be >= 1")
	}
	if r.Points == 1 {
		return []float64{r.Min}, nil
	}
	return floats.Span(make([]float64, r.Points), r.Min, r.Max), nil
}
