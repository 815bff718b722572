package experiments

import (
	"fmt"
	"time"
)

// Config is one row of the hyperparameter sweep. It is frozen once a run
// starts; re-running with different values is a new run.
type Config struct {
	RunName string `yaml:"run_name" json:"run_name"`

	Rank          int      `yaml:"rank" json:"rank"`
	Alpha         int      `yaml:"alpha" json:"alpha"`
	Dropout       float64  `yaml:"dropout" json:"dropout"`
	LearningRate  float64  `yaml:"learning_rate" json:"learning_rate"`
	TargetModules []string `yaml:"target_modules" json:"target_modules"`

	BatchSize      int `yaml:"batch_size" json:"batch_size"`
	GradAccumSteps int `yaml:"grad_accum_steps" json:"grad_accum_steps"`
	Epochs         int `yaml:"epochs" json:"epochs"`
}

func (c *Config) Validate() error {
	if c.RunName == "" {
		return fmt.Errorf("run_name must be specified")
	}

	if c.Rank == 0 {
		c.Rank = 16
	}
	if c.Rank < 0 {
		return fmt.Errorf("rank must be > 0")
	}

	if c.Alpha == 0 {
		c.Alpha = 2 * c.Rank
	}

	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1)")
	}

	if c.LearningRate == 0 {
		c.LearningRate = 2e-4
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be > 0")
	}

	if len(c.TargetModules) == 0 {
		c.TargetModules = []string{"q_proj", "k_proj", "v_proj", "o_proj"}
	}

	if c.BatchSize == 0 {
		c.BatchSize = 4
	}
	if c.GradAccumSteps == 0 {
		c.GradAccumSteps = 4
	}
	if c.Epochs == 0 {
		c.Epochs = 3
	}

	return nil
}

// EffectiveBatchSize is the quantity that must be held constant across sweep
// rows for eval losses to be comparable.
func (c Config) EffectiveBatchSize() int {
	return c.BatchSize * c.GradAccumSteps
}

// ValidateSweep validates every row and rejects sweeps whose rows differ in
// effective batch size or reuse a run name.
func ValidateSweep(configs []Config) error {
	if len(configs) == 0 {
		return fmt.Errorf("sweep must contain at least one configuration")
	}

	names := make(map[string]struct{}, len(configs))
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return fmt.Errorf("invalid sweep row %d: %w", i, err)
		}
		if _, ok := names[configs[i].RunName]; ok {
			return fmt.Errorf("duplicate run name '%v' in sweep", configs[i].RunName)
		}
		names[configs[i].RunName] = struct{}{}
	}

	effective := configs[0].EffectiveBatchSize()
	for _, cfg := range configs[1:] {
		if cfg.EffectiveBatchSize() != effective {
			return fmt.Errorf("run '%v' has effective batch size %d, expected %d: sweep rows must be comparable",
				cfg.RunName, cfg.EffectiveBatchSize(), effective)
		}
	}

	return nil
}

// Result records a completed run. It is never mutated after creation; the
// "selected" label lives in the run registry, not here.
type Result struct {
	Config Config `json:"config"`

	TrainLoss    float64 `json:"train_loss"`
	BestEvalLoss float64 `json:"best_eval_loss"`

	PeakMemoryBytes  int64   `json:"peak_memory_bytes"`
	WallClockSeconds float64 `json:"wall_clock_seconds"`
	TrainableParams  int64   `json:"trainable_params"`
	TotalParams      int64   `json:"total_params"`

	ArtifactRef string    `json:"artifact_ref"`
	CompletedAt time.Time `json:"completed_at"`
}
