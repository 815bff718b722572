package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dzuokumor/LoRA/corpus"
	"github.com/dzuokumor/LoRA/dataset"
	"github.com/dzuokumor/LoRA/evalharness"
	"github.com/dzuokumor/LoRA/experiments"
	"github.com/dzuokumor/LoRA/model"
	"github.com/dzuokumor/LoRA/pipelineconfig"
	"github.com/dzuokumor/LoRA/storage"
	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

type pipelineEnv struct {
	ShareDir string `env:"SHARE_DIR,required"`

	GeneralCorpus string `env:"GENERAL_CORPUS,required"`
	DomainCorpus  string `env:"DOMAIN_CORPUS,required"`

	// Endpoints are only needed for full runs; a dry run exercises the data
	// pipeline alone.
	TrainerEndpoint    string `env:"TRAINER_ENDPOINT"`
	BaseModelEndpoint  string `env:"BASE_MODEL_ENDPOINT"`
	TunedModelEndpoint string `env:"TUNED_MODEL_ENDPOINT"`

	DbPath string `env:"DB_PATH"`
}

func loadEnv() (*pipelineEnv, error) {
	cfg := &pipelineEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.DbPath == "" {
		cfg.DbPath = filepath.Join(cfg.ShareDir, "runs.db")
	}
	return cfg, nil
}

func loadCorpus(path string, source corpus.Source) ([]corpus.RawRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %v corpus at %v: %w", source, path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		return corpus.ReadJSONL(file, source)
	case ".csv":
		return corpus.ReadCSV(file, source)
	default:
		return nil, fmt.Errorf("unsupported corpus format %v for %v", filepath.Ext(path), path)
	}
}

func curate(cfg pipelineconfig.Config, env *pipelineEnv) ([]corpus.RawRecord, error) {
	general, err := loadCorpus(env.GeneralCorpus, corpus.SourceGeneral)
	if err != nil {
		return nil, err
	}
	domain, err := loadCorpus(env.DomainCorpus, corpus.SourceDomainQA)
	if err != nil {
		return nil, err
	}

	records := corpus.Filter(append(general, domain...), cfg.Corpus.Keywords)
	cleaned, drops := corpus.Clean(records, cfg.Corpus.MinResponseLen)

	slog.Info("corpus curated",
		"loaded", len(general)+len(domain), "filtered", len(records), "cleaned", len(cleaned),
		"dropped_empty", drops.Empty, "dropped_short", drops.TooShort, "dropped_duplicate", drops.Duplicate,
		"code", logging.DATA_CLEAN)

	if len(cleaned) > cfg.Corpus.MaxExamples {
		cleaned = cleaned[:cfg.Corpus.MaxExamples]
	}
	return cleaned, nil
}

func loadEvalSet(cfg pipelineconfig.Config) (prompts, references []string, err error) {
	file, err := os.Open(cfg.Evaluation.PromptsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening evaluation prompts: %w", err)
	}
	defer file.Close()

	records, err := corpus.ReadJSONL(file, corpus.SourceDomainQA)
	if err != nil {
		return nil, nil, err
	}

	for _, rec := range records {
		prompts = append(prompts, dataset.ChatTemplate(cfg.SystemPrompt, rec.Instruction))
		references = append(references, rec.Response)
	}
	return prompts, references, nil
}

func runSweep(ctx context.Context, cfg pipelineconfig.Config, split dataset.Split, trainer *model.TrainerClient, store storage.Storage, registry *experiments.Registry) error {
	runner := &experiments.Runner{Store: store}

	for _, runCfg := range cfg.Experiments {
		handle, err := trainer.StartRun(ctx, model.AdapterSpec{
			Rank:          runCfg.Rank,
			Alpha:         runCfg.Alpha,
			Dropout:       runCfg.Dropout,
			LearningRate:  runCfg.LearningRate,
			TargetModules: runCfg.TargetModules,
		})
		if err != nil {
			return fmt.Errorf("error starting run '%v': %w", runCfg.RunName, err)
		}

		result, err := runner.Run(ctx, split, runCfg, handle)
		if err != nil {
			// A failed run does not take its siblings down with it, but an
			// aborted pipeline stops here.
			if ctx.Err() != nil {
				return err
			}
			var failure *experiments.TrainingFailure
			if errors.As(err, &failure) {
				slog.Error("training run failed, continuing sweep", "error", err)
				continue
			}
			return err
		}

		if err := registry.SaveResult(result); err != nil {
			return err
		}
	}
	return nil
}

// writeTelemetrySnapshot persists the pipeline's counters next to the reports
// so they can be inspected after the process exits.
func writeTelemetrySnapshot(store storage.Storage, reportName string) error {
	snapshot, err := telemetry.Snapshot()
	if err != nil {
		return err
	}
	path := filepath.Join(storage.ReportPath(reportName), "telemetry.prom")
	if err := store.Write(path, bytes.NewReader(snapshot)); err != nil {
		return fmt.Errorf("error writing telemetry snapshot: %w", err)
	}
	return nil
}

func runApp() error {
	configPath := flag.String("config", "pipeline.yaml", "Path to the pipeline config file")
	envFile := flag.String("env", "", "Optional .env file to load")
	dryRun := flag.Bool("dry-run", false, "Run only the data pipeline with a local tokenizer, no training or evaluation")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("error loading .env file '%v': %w", *envFile, err)
		}
	}

	environ, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	store := storage.NewSharedDisk(environ.ShareDir)

	pipelineID := uuid.New().String()
	logPath := filepath.Join(store.Location(), storage.LogPath(pipelineID))
	if err := os.MkdirAll(filepath.Dir(logPath), 0777); err != nil {
		return fmt.Errorf("error creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer logFile.Close()
	logging.InitLogging(logFile, pipelineID)

	cfg, err := pipelineconfig.Load(*configPath)
	if err != nil {
		return err
	}

	slog.Info("pipeline starting",
		"pipeline_id", pipelineID, "base_model", cfg.BaseModel,
		"runs", len(cfg.Experiments), "dry_run", *dryRun,
		"code", logging.SYSTEM)

	// Stages run strictly in sequence: each consumes the previous stage's
	// output, and one accelerator cannot serve two runs at once. Signals
	// abort cooperatively at step boundaries.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleaned, err := curate(cfg, environ)
	if err != nil {
		return err
	}

	var tokenizer model.Tokenizer
	var trainer *model.TrainerClient
	if *dryRun {
		tokenizer, err = model.NewBpeTokenizer("")
		if err != nil {
			return err
		}
	} else {
		if environ.TrainerEndpoint == "" {
			return fmt.Errorf("TRAINER_ENDPOINT must be set for a full run")
		}
		trainer = model.NewTrainerClient(environ.TrainerEndpoint)
		tokenizer = trainer
	}

	split, stats, err := dataset.SplitAndFormat(cleaned, cfg.Split.Ratio, cfg.Split.Seed, cfg.SystemPrompt, dataset.ChatTemplate, tokenizer, cfg.Split.MaxLength)
	if err != nil {
		return err
	}

	if *dryRun {
		slog.Info("dry run complete",
			"train", len(split.Train), "eval", len(split.Eval), "skipped", stats.Skipped,
			"code", logging.SYSTEM)
		return writeTelemetrySnapshot(store, cfg.Evaluation.ReportName)
	}

	registry, err := experiments.OpenRegistry(environ.DbPath)
	if err != nil {
		return err
	}

	if err := runSweep(ctx, cfg, split, trainer, store, registry); err != nil {
		return err
	}

	results, err := registry.ListCompleted()
	if err != nil {
		return err
	}
	best, err := experiments.Select(results)
	if err != nil {
		return err
	}
	if err := registry.MarkSelected(best.Config.RunName); err != nil {
		return err
	}
	slog.Info("selected best run",
		"run", best.Config.RunName, "best_eval_loss", best.BestEvalLoss, "artifact", best.ArtifactRef,
		"code", logging.RUN_SELECT)

	if environ.BaseModelEndpoint == "" || environ.TunedModelEndpoint == "" {
		return fmt.Errorf("BASE_MODEL_ENDPOINT and TUNED_MODEL_ENDPOINT must be set for evaluation")
	}

	prompts, references, err := loadEvalSet(cfg)
	if err != nil {
		return err
	}

	base := model.NewRemoteModel(environ.BaseModelEndpoint, cfg.BaseModel)
	fineTuned := model.NewRemoteModel(environ.TunedModelEndpoint, best.Config.RunName)

	report, err := evalharness.Evaluate(ctx, base, fineTuned, prompts, references, cfg.Decoding)
	if err != nil {
		return err
	}

	info := model.Info{
		BaseModel:       cfg.BaseModel,
		Quantization:    "4-bit nf4 (qlora)",
		TotalParams:     best.TotalParams,
		TrainableParams: best.TrainableParams,
		PeakMemoryBytes: best.PeakMemoryBytes,
	}
	if err := evalharness.WriteReports(store, cfg.Evaluation.ReportName, report, results, best.Config.RunName, info); err != nil {
		return err
	}
	return writeTelemetrySnapshot(store, cfg.Evaluation.ReportName)
}

func main() {
	if err := runApp(); err != nil {
		log.Fatal(err)
	}
}
