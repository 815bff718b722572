package evalharness_test

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/dzuokumor/LoRA/evalharness"
	"github.com/dzuokumor/LoRA/experiments"
	"github.com/dzuokumor/LoRA/model"
	"github.com/dzuokumor/LoRA/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() evalharness.ComparisonReport {
	return evalharness.ComparisonReport{
		PerMetric: map[string]evalharness.MetricPair{
			evalharness.MetricRouge1:  {Base: 0.31, FineTuned: 0.42, Delta: 0.11},
			evalharness.MetricRougeL:  {Base: 0.28, FineTuned: 0.37, Delta: 0.09},
			evalharness.MetricTokenF1: {Base: 0.33, FineTuned: 0.40, Delta: 0.07},
			evalharness.MetricBleu:    {Base: 0.08, FineTuned: 0.06, Delta: -0.02},
		},
		Perplexity:  evalharness.MetricPair{Base: 9.4, FineTuned: 6.1, Delta: -3.3},
		PromptCount: 48,
		Excluded:    2,
	}
}

func sampleResults(t *testing.T) []experiments.Result {
	mk := func(name string, rank int, lr, loss float64) experiments.Result {
		cfg := experiments.Config{RunName: name, Rank: rank, LearningRate: lr}
		require.NoError(t, cfg.Validate())
		return experiments.Result{
			Config:       cfg,
			TrainLoss:    loss + 0.2,
			BestEvalLoss: loss,
			ArtifactRef:  storage.AdapterPath(name),
			CompletedAt:  time.Now().UTC(),
		}
	}
	return []experiments.Result{
		mk("run1_baseline", 16, 2e-4, 1.0694),
		mk("run2_low_rank", 8, 2e-4, 1.0895),
		mk("run3_low_lr", 16, 1e-4, 1.1416),
	}
}

func readCsv(t *testing.T, store storage.Storage, path string) [][]string {
	file, err := store.Read(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteReports(t *testing.T) {
	store := storage.NewSharedDisk(t.TempDir())
	info := model.Info{
		BaseModel:       "TinyLlama/TinyLlama-1.1B-Chat-v1.0",
		Quantization:    "4-bit nf4 (qlora)",
		TotalParams:     1100048384,
		TrainableParams: 4505600,
	}

	err := evalharness.WriteReports(store, "comparison", sampleReport(), sampleResults(t), "run1_baseline", info)
	require.NoError(t, err)

	reportDir := storage.ReportPath("comparison")

	metrics := readCsv(t, store, filepath.Join(reportDir, evalharness.MetricsFile))
	require.Len(t, metrics, 5)
	assert.Equal(t, []string{"metric", "base", "fine_tuned", "delta"}, metrics[0])
	assert.Equal(t, "rouge1", metrics[1][0])
	assert.Equal(t, "rougeL", metrics[2][0])
	assert.Equal(t, "token_f1", metrics[3][0])
	assert.Equal(t, "bleu", metrics[4][0])
	// Negative deltas are reported, never dropped.
	assert.Equal(t, "-0.02", metrics[4][3])

	runs := readCsv(t, store, filepath.Join(reportDir, evalharness.ExperimentsFile))
	require.Len(t, runs, 4)
	assert.Equal(t, "run1_baseline", runs[1][0])
	assert.Equal(t, "true", runs[1][14])
	assert.Equal(t, "false", runs[2][14])
	assert.Equal(t, "false", runs[3][14])

	perplexityFile, err := store.Read(filepath.Join(reportDir, evalharness.PerplexityFile))
	require.NoError(t, err)
	defer perplexityFile.Close()

	var perplexity map[string]float64
	data, err := io.ReadAll(perplexityFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &perplexity))
	assert.Equal(t, 9.4, perplexity["base"])
	assert.Equal(t, 6.1, perplexity["fine_tuned"])
	assert.Equal(t, float64(2), perplexity["excluded"])

	infoFile, err := store.Read(filepath.Join(reportDir, evalharness.ModelInfoFile))
	require.NoError(t, err)
	defer infoFile.Close()

	var gotInfo model.Info
	data, err = io.ReadAll(infoFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &gotInfo))
	assert.Equal(t, info, gotInfo)
}
