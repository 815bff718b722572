package pipelineconfig

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dzuokumor/LoRA/experiments"
	"github.com/dzuokumor/LoRA/model"
)

// Config is the full pipeline.yaml. Each section validates itself; Validate
// default-fills zero values so a minimal file works out of the box.
type Config struct {
	BaseModel    string `yaml:"base_model"`
	SystemPrompt string `yaml:"system_prompt"`

	Corpus      CorpusConfig         `yaml:"corpus"`
	Split       SplitConfig          `yaml:"split"`
	Experiments []experiments.Config `yaml:"experiments"`
	Decoding    model.DecodingConfig `yaml:"decoding"`
	Evaluation  EvaluationConfig     `yaml:"evaluation"`
}

type CorpusConfig struct {
	Keywords       []string `yaml:"keywords"`
	MinResponseLen int      `yaml:"min_response_len"`
	MaxExamples    int      `yaml:"max_examples"`
}

func (c *CorpusConfig) Validate() error {
	if len(c.Keywords) == 0 {
		return fmt.Errorf("corpus.keywords must be non-empty: an empty keyword set retains no records")
	}
	if c.MinResponseLen == 0 {
		c.MinResponseLen = 20
	}
	if c.MinResponseLen < 0 {
		return fmt.Errorf("corpus.min_response_len must be >= 0")
	}
	if c.MaxExamples == 0 {
		c.MaxExamples = 1500
	}
	if c.MaxExamples < 2 {
		return fmt.Errorf("corpus.max_examples must be >= 2")
	}
	return nil
}

type SplitConfig struct {
	Ratio     float64 `yaml:"ratio"`
	Seed      int64   `yaml:"seed"`
	MaxLength int     `yaml:"max_length"`
}

func (c *SplitConfig) Validate() error {
	if c.Ratio == 0 {
		c.Ratio = 0.9
	}
	if c.Ratio <= 0 || c.Ratio >= 1 {
		return fmt.Errorf("split.ratio must be in (0, 1)")
	}
	if c.MaxLength == 0 {
		c.MaxLength = 512
	}
	if c.MaxLength < 0 {
		return fmt.Errorf("split.max_length must be > 0")
	}
	return nil
}

type EvaluationConfig struct {
	PromptsFile string `yaml:"prompts_file"`
	ReportName  string `yaml:"report_name"`
}

func (c *EvaluationConfig) Validate() error {
	if c.PromptsFile == "" {
		return fmt.Errorf("evaluation.prompts_file must be specified")
	}
	if c.ReportName == "" {
		c.ReportName = "comparison"
	}
	return nil
}

func (c *Config) Validate() error {
	allErrors := []error{}

	if c.BaseModel == "" {
		c.BaseModel = "TinyLlama/TinyLlama-1.1B-Chat-v1.0"
	}
	if c.SystemPrompt == "" {
		allErrors = append(allErrors, fmt.Errorf("system_prompt must be specified"))
	}

	allErrors = append(allErrors, c.Corpus.Validate())
	allErrors = append(allErrors, c.Split.Validate())
	allErrors = append(allErrors, experiments.ValidateSweep(c.Experiments))
	allErrors = append(allErrors, c.Evaluation.Validate())

	if c.Decoding.MaxNewTokens == 0 {
		c.Decoding.MaxNewTokens = 512
	}
	if c.Decoding.Temperature == 0 {
		c.Decoding.Temperature = 0.7
	}
	if c.Decoding.TopP == 0 {
		c.Decoding.TopP = 0.9
	}
	if c.Decoding.RepetitionPenalty == 0 {
		c.Decoding.RepetitionPenalty = 1.2
	}
	if c.Decoding.Seed == 0 {
		c.Decoding.Seed = c.Split.Seed
	}

	return errors.Join(allErrors...)
}

// Load reads and validates a pipeline.yaml.
func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("error opening pipeline config %v: %w", path, err)
	}
	defer file.Close()

	return Parse(file)
}

func Parse(r io.Reader) (Config, error) {
	var cfg Config

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing pipeline config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid pipeline config: %w", err)
	}

	return cfg, nil
}
