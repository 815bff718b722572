package experiments_test

import (
	"testing"
	"time"

	"github.com/dzuokumor/LoRA/experiments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(name string, rank, alpha int, lr, bestEvalLoss float64) experiments.Result {
	return experiments.Result{
		Config: experiments.Config{
			RunName:        name,
			Rank:           rank,
			Alpha:          alpha,
			LearningRate:   lr,
			BatchSize:      4,
			GradAccumSteps: 4,
			Epochs:         3,
		},
		BestEvalLoss: bestEvalLoss,
		CompletedAt:  time.Now().UTC(),
	}
}

func TestSelectPicksMinimumEvalLoss(t *testing.T) {
	results := []experiments.Result{
		result("run1_baseline", 16, 32, 2e-4, 1.0694),
		result("run2_low_rank", 8, 16, 2e-4, 1.0895),
		result("run3_low_lr", 16, 32, 1e-4, 1.1416),
	}

	best, err := experiments.Select(results)
	require.NoError(t, err)

	assert.Equal(t, "run1_baseline", best.Config.RunName)
	assert.Equal(t, 16, best.Config.Rank)
	assert.Equal(t, 32, best.Config.Alpha)
	assert.Equal(t, 2e-4, best.Config.LearningRate)
	assert.Equal(t, 1.0694, best.BestEvalLoss)
}

func TestSelectTieGoesToEarliestRun(t *testing.T) {
	results := []experiments.Result{
		result("first", 16, 32, 2e-4, 1.1),
		result("second", 8, 16, 2e-4, 1.1),
		result("third", 16, 32, 1e-4, 1.1),
	}

	best, err := experiments.Select(results)
	require.NoError(t, err)
	assert.Equal(t, "first", best.Config.RunName)
}

func TestSelectNoRuns(t *testing.T) {
	_, err := experiments.Select(nil)
	assert.ErrorIs(t, err, experiments.ErrNoRuns)

	_, err = experiments.Select([]experiments.Result{})
	assert.ErrorIs(t, err, experiments.ErrNoRuns)
}

func TestSelectSingleRun(t *testing.T) {
	only := result("solo", 16, 32, 2e-4, 2.5)
	best, err := experiments.Select([]experiments.Result{only})
	require.NoError(t, err)
	assert.Equal(t, "solo", best.Config.RunName)
}
