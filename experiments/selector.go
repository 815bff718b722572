package experiments

import "errors"

// ErrNoRuns is returned when selection is attempted with zero completed runs.
var ErrNoRuns = errors.New("no completed runs to select from")

// Select returns the result with the minimum best eval loss. Ties go to the
// earliest result in the sequence (completion order), so selection is stable.
// Select is pure: labeling the winner is the caller's job.
func Select(results []Result) (Result, error) {
	if len(results) == 0 {
		return Result{}, ErrNoRuns
	}

	best := results[0]
	for _, result := range results[1:] {
		if result.BestEvalLoss < best.BestEvalLoss {
			best = result
		}
	}
	return best, nil
}
