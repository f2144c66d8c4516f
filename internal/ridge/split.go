package ridge

import "github.com/sells-group/mmm-cli/internal/model"

// DefaultSplits is the number of forward-chaining folds used when the sample
// is long enough.
const DefaultSplits = 5

// minSplits is the floor below which cross-validation is refused.
const minSplits = 2

// Fold is one forward-chaining split: train on [0, Start), validate on
// [Start, End). Training always strictly precedes validation.
type Fold struct {
	Start int
	End   int
}

// TimeSeriesSplit builds forward-chaining folds over n time-ordered samples.
// Each validation block holds n/(splits+1) samples and the blocks tile the
// tail of the sample. When n is too short for the requested splits, the
// count degrades to n-1; fewer than two splits is an InsufficientDataError.
func TimeSeriesSplit(n, splits int) ([]Fold, error) {
	if splits <= 0 {
		splits = DefaultSplits
	}
	if splits > n-1 {
		splits = n - 1
	}
	if splits < minSplits {
		return nil, &model.InsufficientDataError{Have: n, Need: minSplits + 1}
	}

	testSize := n / (splits + 1)
	first := n - splits*testSize

	folds := make([]Fold, 0, splits)
	for start := first; start < n; start += testSize {
		folds = append(folds, Fold{Start: start, End: start + testSize})
	}
	return folds, nil
}
