// Package estimate provides the windowed regression estimate of incremental
// revenue from advertising spend.
package estimate

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mmm-cli/internal/model"
	"github.com/sells-group/mmm-cli/internal/ridge"
)

// Params configures one incrementality estimate.
type Params struct {
	TestStart   time.Time
	TestEnd     time.Time
	PreTestDays int
	Saturation  float64
	Alphas      []float64
}

// DefaultParams returns the reference settings: 30 pre-test days, saturation
// 0.25 and alphas {0.1, 1, 10}. Test dates must still be set by the caller.
func DefaultParams() Params {
	return Params{
		PreTestDays: 30,
		Saturation:  0.25,
		Alphas:      []float64{0.1, 1.0, 10.0},
	}
}

// WindowStart returns the first day of the estimation window.
func (p Params) WindowStart() time.Time {
	return p.TestStart.AddDate(0, 0, -p.PreTestDays)
}

// Validate checks the window bounds.
func (p Params) Validate() error {
	if p.TestStart.IsZero() {
		return model.NewMalformedInput("test_start", "required")
	}
	if p.TestEnd.IsZero() {
		return model.NewMalformedInput("test_end", "required")
	}
	if p.TestEnd.Before(p.TestStart) {
		return model.NewMalformedInput("test_end", "before test_start")
	}
	if p.PreTestDays < 0 {
		return model.NewMalformedInput("pre_test_days", "must be >= 0")
	}
	if math.IsNaN(p.Saturation) || math.IsInf(p.Saturation, 0) {
		return model.NewMalformedInput("saturation", "must be finite")
	}
	return nil
}

// Estimator runs the windowed regression. It is stateless and safe for
// concurrent use as long as its Fitter is.
type Estimator struct {
	fitter ridge.Fitter
}

// NewEstimator creates an estimator backed by the given fitter. A nil fitter
// selects the gonum cross-validated ridge with five forward-chaining folds.
func NewEstimator(fitter ridge.Fitter) *Estimator {
	if fitter == nil {
		fitter = ridge.NewCV(ridge.DefaultSplits)
	}
	return &Estimator{fitter: fitter}
}

// Estimate clips the series to [TestStart - PreTestDays, TestEnd], regresses
// revenue on spend^(1-Saturation) and reports in-sample fit quality with the
// learned coefficient. Pre-test days only widen the training sample; no
// counterfactual baseline is subtracted.
func (e *Estimator) Estimate(series model.Series, p Params) (*model.RegressionResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	window := series.Window(p.WindowStart(), p.TestEnd)
	if window.Len() < model.MinObservations {
		return nil, &model.InsufficientDataError{Have: window.Len(), Need: model.MinObservations}
	}

	x := SaturateSpend(window.Spend(), p.Saturation)
	y := window.Revenue()

	fit, err := e.fitter.Fit(x, y, p.Alphas)
	if err != nil {
		return nil, eris.Wrap(err, "estimate: fit ridge")
	}

	r2 := ridge.RSquared(y, fit.Predict(x))

	zap.L().Debug("estimate: incrementality fit",
		zap.Time("window_start", p.WindowStart()),
		zap.Time("window_end", p.TestEnd),
		zap.Int("observations", window.Len()),
		zap.Float64("saturation", p.Saturation),
		zap.Float64("alpha", fit.Alpha),
		zap.Int("folds", fit.Folds),
		zap.Float64("coefficient", fit.Coefficient),
		zap.Float64("intercept", fit.Intercept),
		zap.Float64("r2", r2),
	)

	return &model.RegressionResult{
		R2:              r2,
		Saturation:      p.Saturation,
		ROASCoefficient: fit.Coefficient,
		RidgeAlpha:      fit.Alpha,
	}, nil
}

// SaturateSpend applies the diminishing-returns transform spend^(1-s).
func SaturateSpend(spend []float64, saturation float64) []float64 {
	out := make([]float64, len(spend))
	exp := 1 - saturation
	for i, s := range spend {
		out[i] = math.Pow(s, exp)
	}
	return out
}
