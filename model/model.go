package model

import (
	"context"
	"errors"
)

// The pipeline never inspects model internals. Training, generation, and
// scoring are opaque capabilities behind these interfaces; the accelerator
// math lives on the other side.

// ErrResourceExhausted is returned by a capability when the accelerator runs
// out of memory. The caller treats it as fatal to the current run.
var ErrResourceExhausted = errors.New("accelerator out of memory")

// Batch is one micro-batch of tokenized examples.
type Batch struct {
	TokenIDs [][]int
}

// DecodingConfig controls generation. Seed makes sampling reproducible; the
// evaluation harness passes the same config to both models it compares.
type DecodingConfig struct {
	MaxNewTokens      int     `yaml:"max_new_tokens" json:"max_new_tokens"`
	Temperature       float64 `yaml:"temperature" json:"temperature"`
	TopP              float64 `yaml:"top_p" json:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty" json:"repetition_penalty"`
	Seed              int64   `yaml:"seed" json:"seed"`
}

// Info is the read-only model metadata snapshot exposed to the serving layer.
type Info struct {
	BaseModel       string `json:"base_model"`
	Quantization    string `json:"quantization"`
	TotalParams     int64  `json:"total_params"`
	TrainableParams int64  `json:"trainable_params"`
	PeakMemoryBytes int64  `json:"peak_memory_bytes"`
}

type Tokenizer interface {
	// Encode tokenizes text, truncating from the end at maxLength when
	// maxLength > 0.
	Encode(text string, maxLength int) ([]int, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, cfg DecodingConfig) (string, error)
}

type Scorer interface {
	// ReferenceLoss returns the mean cross-entropy of the reference
	// continuation conditioned on the prompt, and the number of reference
	// tokens scored.
	ReferenceLoss(ctx context.Context, prompt, reference string) (float64, int, error)
}

// Trainable is the handle the experiment runner drives. ForwardAndLoss
// accumulates gradients on the accelerator; Step applies and zeroes them.
// A Trainable owns the accelerator's memory until Release is called.
type Trainable interface {
	ForwardAndLoss(ctx context.Context, batch Batch) (float64, error)
	Step(ctx context.Context) error
	EvalLoss(ctx context.Context, batch Batch) (float64, error)
	ExportAdapter(ctx context.Context) ([]byte, error)
	Info(ctx context.Context) (Info, error)
	Release(ctx context.Context) error
}
