package model

import (
	"math"

	"github.com/shopspring/decimal"
)

// RegressionResult holds the output of the windowed incrementality regression.
// Values are unrounded; call Rounded for presentation.
type RegressionResult struct {
	R2              float64 `json:"r2"`
	Saturation      float64 `json:"saturation"`
	ROASCoefficient float64 `json:"roas_coefficient"`
	RidgeAlpha      float64 `json:"ridge_alpha"`
}

// Rounded returns a copy rounded for reporting: r2 to 3 places and the ROAS
// coefficient to 4. Saturation and alpha are echoed as-is.
func (r RegressionResult) Rounded() RegressionResult {
	r.R2 = Round(r.R2, 3)
	r.ROASCoefficient = Round(r.ROASCoefficient, 4)
	return r
}

// Candidate is one point of the calibration grid.
type Candidate struct {
	Saturation  float64 `json:"saturation"`
	Decay       float64 `json:"decay"`
	ScaleFactor float64 `json:"scale_factor"`
}

// CalibrationResult is a scored grid candidate.
type CalibrationResult struct {
	Candidate
	Loss float64 `json:"loss"`
}

// Rounded returns a copy rounded for reporting.
func (r CalibrationResult) Rounded() CalibrationResult {
	r.Saturation = Round(r.Saturation, 3)
	r.Decay = Round(r.Decay, 3)
	r.ScaleFactor = Round(r.ScaleFactor, 2)
	r.Loss = Round(r.Loss, 3)
	return r
}

// Round rounds v half-to-even at the given number of decimal places.
// Non-finite values pass through unchanged.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).RoundBank(places).InexactFloat64()
}
