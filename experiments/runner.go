package experiments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dzuokumor/LoRA/dataset"
	"github.com/dzuokumor/LoRA/model"
	"github.com/dzuokumor/LoRA/storage"
	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

// TrainingFailure is fatal to one run and carries the config identity needed
// to reproduce it. Sibling runs are unaffected; nothing retries.
type TrainingFailure struct {
	Config Config
	Err    error
}

func (e *TrainingFailure) Error() string {
	c := e.Config
	return fmt.Sprintf("run '%v' (rank=%d alpha=%d lr=%v batch=%dx%d) failed: %v",
		c.RunName, c.Rank, c.Alpha, c.LearningRate, c.BatchSize, c.GradAccumSteps, e.Err)
}

func (e *TrainingFailure) Unwrap() error {
	return e.Err
}

// Runner drives training runs sequentially. It writes finalized adapters to
// the artifact store; a run that fails or is aborted leaves no artifact and
// no result.
type Runner struct {
	Store storage.Storage
}

// Run trains one adapter configuration over the split. Gradients accumulate
// over GradAccumSteps micro-batches before each optimizer step; the eval
// split is scored in no-gradient mode after every epoch and BestEvalLoss is
// the minimum over those checkpoints. The handle owns the accelerator for
// the duration of the call and is released before Run returns.
func (r *Runner) Run(ctx context.Context, split dataset.Split, cfg Config, handle model.Trainable) (Result, error) {
	start := time.Now()

	defer func() {
		if err := handle.Release(context.Background()); err != nil {
			slog.Error("error releasing accelerator memory", "run", cfg.RunName, "error", err)
		}
	}()

	if len(split.Train) == 0 || len(split.Eval) == 0 {
		return Result{}, &TrainingFailure{Config: cfg, Err: fmt.Errorf("split has %d train / %d eval examples", len(split.Train), len(split.Eval))}
	}

	slog.Info("starting training run",
		"run", cfg.RunName, "rank", cfg.Rank, "alpha", cfg.Alpha, "lr", cfg.LearningRate,
		"effective_batch", cfg.EffectiveBatchSize(), "epochs", cfg.Epochs,
		"train", len(split.Train), "eval", len(split.Eval),
		"code", logging.RUN_START)

	trainBatches := makeBatches(split.Train, cfg.BatchSize)
	evalBatches := makeBatches(split.Eval, cfg.BatchSize)

	bestEvalLoss := math.Inf(1)
	var epochTrainLoss float64

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		lossSum, microSteps := 0.0, 0

		for i, batch := range trainBatches {
			// Cancellation is cooperative and only observed between steps.
			if err := ctx.Err(); err != nil {
				slog.Warn("training run aborted", "run", cfg.RunName, "epoch", epoch, "code", logging.RUN_ABORT)
				return Result{}, fmt.Errorf("run '%v' aborted: %w", cfg.RunName, err)
			}

			loss, err := handle.ForwardAndLoss(ctx, batch)
			if err != nil {
				return Result{}, &TrainingFailure{Config: cfg, Err: err}
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return Result{}, &TrainingFailure{Config: cfg, Err: fmt.Errorf("training diverged at epoch %d step %d (loss=%v)", epoch, i, loss)}
			}
			lossSum += loss
			microSteps++

			if (i+1)%cfg.GradAccumSteps == 0 || i == len(trainBatches)-1 {
				if err := handle.Step(ctx); err != nil {
					return Result{}, &TrainingFailure{Config: cfg, Err: err}
				}
				telemetry.OptimizerSteps.Inc()
			}
		}

		epochTrainLoss = lossSum / float64(microSteps)

		evalLoss, err := r.evaluate(ctx, handle, evalBatches)
		if err != nil {
			return Result{}, &TrainingFailure{Config: cfg, Err: err}
		}
		bestEvalLoss = min(bestEvalLoss, evalLoss)
		telemetry.EvalCheckpoints.Inc()

		slog.Info("epoch complete",
			"run", cfg.RunName, "epoch", epoch, "train_loss", epochTrainLoss,
			"eval_loss", evalLoss, "best_eval_loss", bestEvalLoss,
			"code", logging.MODEL_TRAIN)
	}

	info, err := handle.Info(ctx)
	if err != nil {
		return Result{}, &TrainingFailure{Config: cfg, Err: fmt.Errorf("error reading model info: %w", err)}
	}

	artifactRef, err := r.finalize(ctx, cfg, handle)
	if err != nil {
		return Result{}, &TrainingFailure{Config: cfg, Err: err}
	}

	result := Result{
		Config:           cfg,
		TrainLoss:        epochTrainLoss,
		BestEvalLoss:     bestEvalLoss,
		PeakMemoryBytes:  info.PeakMemoryBytes,
		WallClockSeconds: time.Since(start).Seconds(),
		TrainableParams:  info.TrainableParams,
		TotalParams:      info.TotalParams,
		ArtifactRef:      artifactRef,
		CompletedAt:      time.Now().UTC(),
	}

	slog.Info("training run complete",
		"run", cfg.RunName, "best_eval_loss", result.BestEvalLoss,
		"wall_clock_seconds", result.WallClockSeconds, "artifact", result.ArtifactRef,
		"code", logging.MODEL_TRAIN)
	return result, nil
}

// evaluate returns the mean loss over the full eval split. Per-batch losses
// are weighted by batch size so a partial final batch does not skew the mean.
func (r *Runner) evaluate(ctx context.Context, handle model.Trainable, evalBatches []model.Batch) (float64, error) {
	lossSum, examples := 0.0, 0
	for _, batch := range evalBatches {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss, err := handle.EvalLoss(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("error computing eval loss: %w", err)
		}
		lossSum += loss * float64(len(batch.TokenIDs))
		examples += len(batch.TokenIDs)
	}
	return lossSum / float64(examples), nil
}

// finalize exports the adapter and writes it, with the frozen run config,
// under the run's own directory. The artifact only exists once every epoch
// has completed.
func (r *Runner) finalize(ctx context.Context, cfg Config, handle model.Trainable) (string, error) {
	adapter, err := handle.ExportAdapter(ctx)
	if err != nil {
		return "", fmt.Errorf("error exporting adapter: %w", err)
	}

	if usage, err := r.Store.Usage(); err == nil && usage.FreeBytes < uint64(len(adapter)) {
		return "", fmt.Errorf("insufficient space in artifact store: need %d bytes, have %d free", len(adapter), usage.FreeBytes)
	}

	artifactRef := storage.AdapterPath(cfg.RunName)
	if err := r.Store.Write(artifactRef, bytes.NewReader(adapter)); err != nil {
		return "", fmt.Errorf("error writing adapter artifact: %w", err)
	}

	frozenCfg, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error serializing run config: %w", err)
	}
	if err := r.Store.Write(storage.RunConfigPath(cfg.RunName), bytes.NewReader(frozenCfg)); err != nil {
		return "", fmt.Errorf("error writing run config: %w", err)
	}

	if err := r.Store.Zip(storage.RunPath(cfg.RunName)); err != nil {
		slog.Error("error archiving run directory", "run", cfg.RunName, "error", err)
	}

	slog.Info("adapter artifact finalized", "run", cfg.RunName, "artifact", artifactRef, "bytes", len(adapter), "code", logging.MODEL_SAVE)
	return artifactRef, nil
}

func makeBatches(examples []dataset.FormattedExample, batchSize int) []model.Batch {
	batches := make([]model.Batch, 0, (len(examples)+batchSize-1)/batchSize)
	for start := 0; start < len(examples); start += batchSize {
		end := min(start+batchSize, len(examples))

		tokenIDs := make([][]int, 0, end-start)
		for _, example := range examples[start:end] {
			tokenIDs = append(tokenIDs, example.TokenIDs)
		}
		batches = append(batches, model.Batch{TokenIDs: tokenIDs})
	}
	return batches
}
