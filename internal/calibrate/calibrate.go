package calibrate

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/mmm-cli/internal/model"
	"github.com/sells-group/mmm-cli/internal/monitoring"
)

// DefaultTopK is the number of ranked candidates surfaced by default.
const DefaultTopK = 5

// Report is the outcome of one exhaustive grid search.
type Report struct {
	Top        []model.CalibrationResult `json:"top"`
	Total      int                       `json:"total"`
	Evaluated  int                       `json:"evaluated"`
	Degenerate int                       `json:"degenerate"`
}

// Calibrator runs grid searches. It holds no per-search state, so one
// Calibrator may serve concurrent searches over different spaces.
type Calibrator struct {
	workers int
	timeout time.Duration
	metrics *monitoring.Metrics
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithWorkers bounds the number of goroutines scoring candidates.
func WithWorkers(n int) Option {
	return func(c *Calibrator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithTimeout sets a deadline on the whole search (0 = none).
func WithTimeout(d time.Duration) Option {
	return func(c *Calibrator) { c.timeout = d }
}

// WithMetrics records candidate outcomes and search duration.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Calibrator) { c.metrics = m }
}

// New creates a Calibrator. Workers default to GOMAXPROCS.
func New(opts ...Option) *Calibrator {
	c := &Calibrator{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// outcome is the per-candidate slot filled by a worker.
type outcome struct {
	result model.CalibrationResult
	err    error
}

// Run scores every candidate in space against observed and returns the topK
// lowest-loss results. Degenerate candidates are logged, counted and left
// out of the ranking. Ties in loss keep enumeration order.
func (c *Calibrator) Run(ctx context.Context, space Space, observed []float64, topK int) (*Report, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if err := validateObserved(observed); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	candidates := space.Candidates()
	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, cand := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "calibrate: search cancelled")
			}
			res, err := Evaluate(observed, cand, space.BaselineSpend)
			outcomes[i] = outcome{result: res, err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Total: len(candidates)}
	ranked := make([]model.CalibrationResult, 0, len(candidates))
	for _, o := range outcomes {
		if o.err != nil {
			if !model.IsDegenerateCandidate(o.err) {
				return nil, eris.Wrap(o.err, "calibrate: evaluate candidate")
			}
			report.Degenerate++
			c.metrics.CandidateDegenerate()
			zap.L().Warn("calibrate: degenerate candidate excluded", zap.Error(o.err))
			continue
		}
		report.Evaluated++
		c.metrics.CandidateEvaluated()
		ranked = append(ranked, o.result)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Loss < ranked[j].Loss
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	report.Top = ranked

	elapsed := time.Since(start)
	c.metrics.ObserveCalibration(elapsed)
	zap.L().Info("calibrate: grid search complete",
		zap.Int("candidates", report.Total),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("degenerate", report.Degenerate),
		zap.Int("top_k", topK),
		zap.Duration("elapsed", elapsed),
	)

	return report, nil
}

// Evaluate scores one candidate: it builds the decay curve
// decay^d * baseline^(1-saturation), rescales it so it sums to
// sum(observed) * scale factor, and returns the sum of squared deviations.
func Evaluate(observed []float64, cand model.Candidate, baselineSpend float64) (model.CalibrationResult, error) {
	base := BaseCurve(len(observed), cand, baselineSpend)
	baseSum := floats.Sum(base)
	if baseSum == 0 || math.IsNaN(baseSum) || math.IsInf(baseSum, 0) {
		return model.CalibrationResult{}, &model.DegenerateCandidateError{Candidate: cand, BaseSum: baseSum}
	}

	target := floats.Sum(observed) * cand.ScaleFactor
	floats.Scale(target/baseSum, base)

	var loss float64
	for d, obs := range observed {
		r := obs - base[d]
		loss += r * r
	}
	return model.CalibrationResult{Candidate: cand, Loss: loss}, nil
}

// BaseCurve returns decay^d * baseline^(1-saturation) for d = 0..n-1.
func BaseCurve(n int, cand model.Candidate, baselineSpend float64) []float64 {
	level := math.Pow(baselineSpend, 1-cand.Saturation)
	out := make([]float64, n)
	for d := range out {
		out[d] = math.Pow(cand.Decay, float64(d)) * level
	}
	return out
}

func validateObserved(observed []float64) error {
	if len(observed) == 0 {
		return model.NewMalformedInput("observed_revenue", "series is empty")
	}
	for _, v := range observed {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return model.NewMalformedInput("observed_revenue", "values must be finite and non-negative")
		}
	}
	return nil
}
