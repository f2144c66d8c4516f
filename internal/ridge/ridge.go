// Package ridge fits L2-regularized linear models with the regularization
// strength chosen by time-respecting cross-validation.
package ridge

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/mmm-cli/internal/model"
)

// Fitter fits a univariate regularized linear model y ~ intercept + coef*x,
// selecting the regularization strength from alphas.
type Fitter interface {
	Fit(x, y []float64, alphas []float64) (*Fit, error)
}

// AlphaScore is the mean validation error for one regularization strength.
type AlphaScore struct {
	Alpha   float64 `json:"alpha"`
	MeanMSE float64 `json:"mean_mse"`
}

// Fit is a fitted model and the cross-validation that selected it.
type Fit struct {
	Coefficient float64      `json:"coefficient"`
	Intercept   float64      `json:"intercept"`
	Alpha       float64      `json:"alpha"`
	Folds       int          `json:"folds"`
	Scores      []AlphaScore `json:"scores"`
}

// Predict evaluates the fitted line at each x.
func (f *Fit) Predict(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = f.Intercept + f.Coefficient*v
	}
	return out
}

// CV is the gonum-backed Fitter. It scores each alpha by mean squared error
// over forward-chaining folds, keeps the lowest (earliest on ties), and
// refits on the full sample.
type CV struct {
	Splits int
}

// NewCV returns a CV fitter using the given number of folds (0 = DefaultSplits).
func NewCV(splits int) *CV {
	if splits <= 0 {
		splits = DefaultSplits
	}
	return &CV{Splits: splits}
}

// Fit implements Fitter.
func (c *CV) Fit(x, y []float64, alphas []float64) (*Fit, error) {
	if len(x) != len(y) {
		return nil, eris.Errorf("ridge: x has %d samples, y has %d", len(x), len(y))
	}
	if err := validateAlphas(alphas); err != nil {
		return nil, err
	}

	folds, err := TimeSeriesSplit(len(x), c.Splits)
	if err != nil {
		return nil, eris.Wrap(err, "ridge: build folds")
	}

	scores := make([]AlphaScore, 0, len(alphas))
	best := -1
	for _, alpha := range alphas {
		mse, err := crossValidate(x, y, folds, alpha)
		if err != nil {
			return nil, err
		}
		scores = append(scores, AlphaScore{Alpha: alpha, MeanMSE: mse})
		if best < 0 || mse < scores[best].MeanMSE {
			best = len(scores) - 1
		}
	}

	alpha := scores[best].Alpha
	coef, intercept, err := solve(x, y, alpha)
	if err != nil {
		return nil, err
	}

	return &Fit{
		Coefficient: coef,
		Intercept:   intercept,
		Alpha:       alpha,
		Folds:       len(folds),
		Scores:      scores,
	}, nil
}

func crossValidate(x, y []float64, folds []Fold, alpha float64) (float64, error) {
	var total float64
	for _, f := range folds {
		coef, intercept, err := solve(x[:f.Start], y[:f.Start], alpha)
		if err != nil {
			return 0, eris.Wrapf(err, "ridge: fold [%d,%d) alpha %g", f.Start, f.End, alpha)
		}
		var sse float64
		for i := f.Start; i < f.End; i++ {
			r := y[i] - (intercept + coef*x[i])
			sse += r * r
		}
		total += sse / float64(f.End-f.Start)
	}
	return total / float64(len(folds)), nil
}

// solve fits ridge with an unpenalized intercept by centering both sides and
// solving (XcᵀXc + αI)β = Xcᵀyc.
func solve(x, y []float64, alpha float64) (float64, float64, error) {
	n := len(x)
	if n == 0 {
		return 0, 0, eris.New("ridge: empty training sample")
	}

	xMean := stat.Mean(x, nil)
	yMean := stat.Mean(y, nil)

	xc := make([]float64, n)
	yc := make([]float64, n)
	copy(xc, x)
	copy(yc, y)
	floats.AddConst(-xMean, xc)
	floats.AddConst(-yMean, yc)

	X := mat.NewDense(n, 1, xc)
	Y := mat.NewVecDense(n, yc)

	var gram mat.Dense
	gram.Mul(X.T(), X)
	gram.Set(0, 0, gram.At(0, 0)+alpha)

	var rhs mat.VecDense
	rhs.MulVec(X.T(), Y)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return 0, 0, eris.Wrap(err, "ridge: solve normal equations")
	}

	coef := beta.AtVec(0)
	return coef, yMean - coef*xMean, nil
}

func validateAlphas(alphas []float64) error {
	if len(alphas) == 0 {
		return model.NewMalformedInput("alphas", "at least one regularization strength is required")
	}
	for _, a := range alphas {
		if !(a > 0) || math.IsInf(a, 0) {
			return model.NewMalformedInput("alphas", "regularization strengths must be positive and finite")
		}
	}
	return nil
}

// RSquared returns the coefficient of determination of yhat against y.
// A constant y scores 1 for an exact fit and 0 otherwise.
func RSquared(y, yhat []float64) float64 {
	if len(y) < 2 || stat.Variance(y, nil) == 0 {
		if floats.EqualApprox(y, yhat, 1e-12) {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(yhat, y, nil)
}
