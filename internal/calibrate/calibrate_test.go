package calibrate

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mmm-cli/internal/config"
	"github.com/sells-group/mmm-cli/internal/model"
	"github.com/sells-group/mmm-cli/internal/monitoring"
)

func referenceConfig() config.CalibrationConfig {
	return config.CalibrationConfig{
		SaturationPowerRange: config.RangeConfig{Min: 0.1, Max: 0.8, Points: 8},
		DecayRange:           config.RangeConfig{Min: 0.5, Max: 1.0, Points: 10},
		RevenueScaleFactors:  []float64{0.8, 1.0, 1.2},
		BaselineSpendDefault: 1000,
	}
}

// directLoss recomputes the loss by hand for cross-checking.
func directLoss(observed []float64, sat, decay, scale, baseline float64) float64 {
	base := make([]float64, len(observed))
	var baseSum, obsSum float64
	for d := range observed {
		base[d] = math.Pow(decay, float64(d)) * math.Pow(baseline, 1-sat)
		baseSum += base[d]
		obsSum += observed[d]
	}
	var loss float64
	for d, o := range observed {
		m := base[d] * (obsSum * scale / baseSum)
		loss += (o - m) * (o - m)
	}
	return loss
}

func TestRun_FourCandidateGrid(t *testing.T) {
	space := Space{
		Saturations:   []float64{0.1, 0.5},
		Decays:        []float64{0.9, 1.0},
		ScaleFactors:  []float64{1.0},
		BaselineSpend: 100,
	}
	observed := []float64{100, 90, 81}

	report, err := New().Run(context.Background(), space, observed, 5)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Evaluated)
	assert.Equal(t, 0, report.Degenerate)
	require.Len(t, report.Top, 4)

	// The observed series is exactly 100 * 0.9^d, so the decay=0.9 curve
	// reconstructs it and the flat decay=1.0 curve does not.
	flat := directLoss(observed, 0.1, 1.0, 1.0, 100)
	decayed := directLoss(observed, 0.1, 0.9, 1.0, 100)
	assert.InDelta(t, 0, decayed, 1e-9)
	assert.InDelta(t, (100-271.0/3)*(100-271.0/3)+(90-271.0/3)*(90-271.0/3)+(81-271.0/3)*(81-271.0/3), flat, 1e-9)

	for _, r := range report.Top[:2] {
		assert.Equal(t, 0.9, r.Decay)
		assert.InDelta(t, decayed, r.Loss, 1e-9)
	}
	for _, r := range report.Top[2:] {
		assert.Equal(t, 1.0, r.Decay)
		assert.InDelta(t, flat, r.Loss, 1e-9)
	}
}

func TestRun_ReferenceScenario(t *testing.T) {
	space, err := NewSpace(referenceConfig())
	require.NoError(t, err)

	report, err := New(WithWorkers(8)).Run(context.Background(), space, config.ReferenceObservedRevenue, DefaultTopK)
	require.NoError(t, err)

	assert.Equal(t, 8*10*3, report.Total)
	assert.Equal(t, report.Total, report.Evaluated+report.Degenerate)
	require.Len(t, report.Top, DefaultTopK)

	for i, r := range report.Top {
		assert.GreaterOrEqual(t, r.Loss, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, r.Loss, report.Top[i-1].Loss)
		}
		assert.InDelta(t, directLoss(config.ReferenceObservedRevenue, r.Saturation, r.Decay, r.ScaleFactor, 1000), r.Loss, 1e-6)
	}
	// Scale factor 1.0 preserves the observed total, which always beats 0.8 or 1.2 here.
	assert.Equal(t, 1.0, report.Top[0].ScaleFactor)
}

func TestRun_Deterministic(t *testing.T) {
	space, err := NewSpace(referenceConfig())
	require.NoError(t, err)

	first, err := New(WithWorkers(1)).Run(context.Background(), space, config.ReferenceObservedRevenue, 5)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := New(WithWorkers(16)).Run(context.Background(), space, config.ReferenceObservedRevenue, 5)
		require.NoError(t, err)
		assert.Equal(t, first.Top, again.Top)
	}
}

func TestRun_StableTieBreak(t *testing.T) {
	// With a baseline of 1 every saturation gives the same curve, so the
	// losses tie exactly and enumeration order decides.
	space := Space{
		Saturations:   []float64{0.7, 0.2, 0.5},
		Decays:        []float64{1.0},
		ScaleFactors:  []float64{1.0},
		BaselineSpend: 1,
	}
	report, err := New(WithWorkers(3)).Run(context.Background(), space, []float64{5, 4, 3}, 3)
	require.NoError(t, err)
	require.Len(t, report.Top, 3)
	assert.Equal(t, []float64{0.7, 0.2, 0.5}, []float64{
		report.Top[0].Saturation, report.Top[1].Saturation, report.Top[2].Saturation,
	})
	assert.Equal(t, report.Top[0].Loss, report.Top[2].Loss)
}

func TestRun_DegenerateExcluded(t *testing.T) {
	// baseline^(1-(-1)) underflows to zero for saturation -1.
	space := Space{
		Saturations:   []float64{-1, 0.5},
		Decays:        []float64{0.8, 0.9},
		ScaleFactors:  []float64{1.0},
		BaselineSpend: 1e-200,
	}
	m := monitoring.NewMetrics()
	report, err := New(WithMetrics(m)).Run(context.Background(), space, []float64{10, 8, 6}, 5)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Degenerate)
	assert.Equal(t, 2, report.Evaluated)
	require.Len(t, report.Top, 2)
	for _, r := range report.Top {
		assert.Equal(t, 0.5, r.Saturation)
	}

	promPath := filepath.Join(t.TempDir(), "mmm.prom")
	require.NoError(t, m.WriteTextfile(promPath))
	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `mmm_calibration_candidates_total{outcome="evaluated"} 2`)
	assert.Contains(t, string(prom), `mmm_calibration_candidates_total{outcome="degenerate"} 2`)
}

func TestRun_AllDegenerate(t *testing.T) {
	space := Space{
		Saturations:   []float64{-1},
		Decays:        []float64{0.5},
		ScaleFactors:  []float64{1.0},
		BaselineSpend: 1e200,
	}
	report, err := New().Run(context.Background(), space, []float64{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, report.Top)
	assert.Equal(t, 1, report.Degenerate)
}

func TestRun_TopKTruncates(t *testing.T) {
	space, err := NewSpace(referenceConfig())
	require.NoError(t, err)

	report, err := New().Run(context.Background(), space, config.ReferenceObservedRevenue, 2)
	require.NoError(t, err)
	assert.Len(t, report.Top, 2)

	report, err = New().Run(context.Background(), space, config.ReferenceObservedRevenue, 0)
	require.NoError(t, err)
	assert.Len(t, report.Top, DefaultTopK)
}

func TestRun_InvalidInputs(t *testing.T) {
	space, err := NewSpace(referenceConfig())
	require.NoError(t, err)

	_, err = New().Run(context.Background(), space, nil, 5)
	require.Error(t, err)
	assert.True(t, model.IsMalformedInput(err))

	_, err = New().Run(context.Background(), space, []float64{1, -2}, 5)
	require.Error(t, err)
	assert.True(t, model.IsMalformedInput(err))

	_, err = New().Run(context.Background(), Space{Saturations: []float64{0.1}, Decays: []float64{0.9}, BaselineSpend: 1}, []float64{1}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revenue_scale_factors")
}

func TestRun_Cancelled(t *testing.T) {
	space, err := NewSpace(referenceConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Run(ctx, space, config.ReferenceObservedRevenue, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search cancelled")
}

func TestRun_TimeoutOption(t *testing.T) {
	space, err := NewSpace(referenceConfig())
	require.NoError(t, err)

	report, err := New(WithTimeout(time.Minute)).Run(context.Background(), space, config.ReferenceObservedRevenue, 5)
	require.NoError(t, err)
	assert.Len(t, report.Top, 5)
}

func TestRun_ConcurrentIndependentConfigs(t *testing.T) {
	c := New()
	narrow := referenceConfig()
	narrow.RevenueScaleFactors = []float64{1.0}

	var wg sync.WaitGroup
	totals := make([]int, 2)
	for i, cfg := range []config.CalibrationConfig{referenceConfig(), narrow} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			space, err := NewSpace(cfg)
			if err != nil {
				return
			}
			report, err := c.Run(context.Background(), space, config.ReferenceObservedRevenue, 5)
			if err != nil {
				return
			}
			totals[i] = report.Total
		}()
	}
	wg.Wait()
	assert.Equal(t, []int{240, 80}, totals)
}

func TestEvaluate_ZeroBaselineIsDegenerate(t *testing.T) {
	_, err := Evaluate([]float64{1, 2, 3}, model.Candidate{Saturation: 0.5, Decay: 0.9, ScaleFactor: 1}, 0)
	require.Error(t, err)
	assert.True(t, model.IsDegenerateCandidate(err))
	assert.Contains(t, err.Error(), "base curve sums to 0")
}

func TestEvaluate_ZeroDecayKeepsFirstDay(t *testing.T) {
	res, err := Evaluate([]float64{10, 0, 0}, model.Candidate{Saturation: 0.5, Decay: 0, ScaleFactor: 1}, 4)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Loss, 1e-12)
}

func TestEvaluate_ScaleFactorShiftsTotal(t *testing.T) {
	observed := []float64{10, 10}
	res, err := Evaluate(observed, model.Candidate{Saturation: 0.2, Decay: 1, ScaleFactor: 1.5}, 50)
	require.NoError(t, err)
	// modeled = [15, 15]
	assert.InDelta(t, 50.0, res.Loss, 1e-9)
}

func TestBaseCurve(t *testing.T) {
	got := BaseCurve(4, model.Candidate{Saturation: 0.5, Decay: 0.5}, 16)
	assert.Equal(t, []float64{4, 2, 1, 0.5}, got)
}
