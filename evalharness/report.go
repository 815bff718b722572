package evalharness

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/dzuokumor/LoRA/experiments"
	"github.com/dzuokumor/LoRA/model"
	"github.com/dzuokumor/LoRA/storage"
	"github.com/dzuokumor/LoRA/utils/logging"
)

// Report file names under the report directory. The serving layer reads these
// verbatim; the names are part of its contract.
const (
	MetricsFile     = "metrics.csv"
	ExperimentsFile = "experiments.csv"
	PerplexityFile  = "perplexity.json"
	ModelInfoFile   = "model_info.json"
)

// Deterministic row order for metrics.csv.
var metricOrder = []string{MetricRouge1, MetricRougeL, MetricTokenF1, MetricBleu}

// WriteReports writes the comparison report, the sweep bookkeeping table, and
// the model metadata snapshot under one report directory.
func WriteReports(store storage.Storage, reportName string, report ComparisonReport, results []experiments.Result, selectedRun string, info model.Info) error {
	if err := writeMetricsCsv(store, reportName, report); err != nil {
		return err
	}
	if err := writeExperimentsCsv(store, reportName, results, selectedRun); err != nil {
		return err
	}
	if err := writeJson(store, reportName, PerplexityFile, map[string]any{
		"base":         report.Perplexity.Base,
		"fine_tuned":   report.Perplexity.FineTuned,
		"delta":        report.Perplexity.Delta,
		"prompt_count": report.PromptCount,
		"excluded":     report.Excluded,
	}); err != nil {
		return err
	}
	if err := writeJson(store, reportName, ModelInfoFile, info); err != nil {
		return err
	}

	slog.Info("comparison report written", "report", reportName, "location", store.Location(), "code", logging.RUN_REPORT)
	return nil
}

func writeMetricsCsv(store storage.Storage, reportName string, report ComparisonReport) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	rows := [][]string{{"metric", "base", "fine_tuned", "delta"}}
	for _, name := range metricOrder {
		p, ok := report.PerMetric[name]
		if !ok {
			continue
		}
		rows = append(rows, []string{name, formatFloat(p.Base), formatFloat(p.FineTuned), formatFloat(p.Delta)})
	}

	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("error encoding metrics csv: %w", err)
	}
	return writeFile(store, reportName, MetricsFile, &buf)
}

func writeExperimentsCsv(store storage.Storage, reportName string, results []experiments.Result, selectedRun string) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	rows := [][]string{{
		"run_name", "rank", "alpha", "learning_rate", "batch_size", "grad_accum_steps",
		"epochs", "train_loss", "best_eval_loss", "peak_memory_bytes", "wall_clock_seconds",
		"trainable_params", "total_params", "artifact_ref", "selected",
	}}
	for _, result := range results {
		cfg := result.Config
		rows = append(rows, []string{
			cfg.RunName,
			strconv.Itoa(cfg.Rank),
			strconv.Itoa(cfg.Alpha),
			formatFloat(cfg.LearningRate),
			strconv.Itoa(cfg.BatchSize),
			strconv.Itoa(cfg.GradAccumSteps),
			strconv.Itoa(cfg.Epochs),
			formatFloat(result.TrainLoss),
			formatFloat(result.BestEvalLoss),
			strconv.FormatInt(result.PeakMemoryBytes, 10),
			formatFloat(result.WallClockSeconds),
			strconv.FormatInt(result.TrainableParams, 10),
			strconv.FormatInt(result.TotalParams, 10),
			result.ArtifactRef,
			strconv.FormatBool(cfg.RunName == selectedRun),
		})
	}

	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("error encoding experiments csv: %w", err)
	}
	return writeFile(store, reportName, ExperimentsFile, &buf)
}

func writeJson(store storage.Storage, reportName, filename string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("error serializing %v: %w", filename, err)
	}
	return writeFile(store, reportName, filename, bytes.NewReader(data))
}

func writeFile(store storage.Storage, reportName, filename string, data io.Reader) error {
	path := filepath.Join(storage.ReportPath(reportName), filename)
	if err := store.Write(path, data); err != nil {
		return fmt.Errorf("error writing report file %v: %w", filename, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
