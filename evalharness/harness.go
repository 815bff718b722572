package evalharness

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dzuokumor/LoRA/model"
	"github.com/dzuokumor/LoRA/telemetry"
	"github.com/dzuokumor/LoRA/utils/logging"
)

// Fixed metric names used as report keys. Consumers key off these strings, so
// they never change.
const (
	MetricRouge1  = "rouge1"
	MetricRougeL  = "rougeL"
	MetricTokenF1 = "token_f1"
	MetricBleu    = "bleu"
)

// Model is the capability surface the harness needs from each side of the
// comparison: seeded generation plus reference scoring.
type Model interface {
	model.Generator
	model.Scorer
}

// EvaluationError marks a single prompt's failure. The prompt is excluded
// from aggregates and the exclusion is counted; it never aborts the harness.
type EvaluationError struct {
	PromptIndex int
	ModelRole   string
	Err         error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed for prompt %d on %v model: %v", e.PromptIndex, e.ModelRole, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// MetricPair holds one metric under both models plus the base to fine-tuned
// delta. Negative deltas are reported like any other value.
type MetricPair struct {
	Base      float64 `json:"base"`
	FineTuned float64 `json:"fine_tuned"`
	Delta     float64 `json:"delta"`
}

func pair(base, fineTuned float64) MetricPair {
	return MetricPair{Base: base, FineTuned: fineTuned, Delta: fineTuned - base}
}

// ComparisonReport is recomputed in full on every harness invocation.
type ComparisonReport struct {
	PerMetric  map[string]MetricPair `json:"per_metric"`
	Perplexity MetricPair            `json:"perplexity"`

	PromptCount int `json:"prompt_count"`
	Excluded    int `json:"excluded"`
}

type promptOutputs struct {
	reference string
	baseText  string
	tunedText string

	baseLoss    float64
	baseTokens  int
	tunedLoss   float64
	tunedTokens int
}

// Evaluate generates one response per prompt from each model under the same
// decoding config, scores the reference continuation under each model, and
// aggregates the metric families across the prompts that succeeded on both
// sides. It fails only when no prompt survives.
func Evaluate(ctx context.Context, base, fineTuned Model, prompts, references []string, decoding model.DecodingConfig) (ComparisonReport, error) {
	if len(prompts) == 0 {
		return ComparisonReport{}, fmt.Errorf("no evaluation prompts provided")
	}
	if len(prompts) != len(references) {
		return ComparisonReport{}, fmt.Errorf("got %d prompts but %d references", len(prompts), len(references))
	}

	included := make([]promptOutputs, 0, len(prompts))
	excluded := 0

	for i, prompt := range prompts {
		outputs, err := evaluatePrompt(ctx, base, fineTuned, i, prompt, references[i], decoding)
		if err != nil {
			slog.Warn("excluding prompt from evaluation", "error", err, "code", logging.MODEL_EVAL)
			telemetry.PromptsExcluded.Inc()
			excluded++
			continue
		}
		included = append(included, outputs)
	}

	if len(included) == 0 {
		return ComparisonReport{}, fmt.Errorf("all %d evaluation prompts failed", len(prompts))
	}

	report := aggregate(included)
	report.Excluded = excluded

	slog.Info("evaluation complete",
		"prompts", report.PromptCount, "excluded", report.Excluded,
		"base_perplexity", report.Perplexity.Base, "fine_tuned_perplexity", report.Perplexity.FineTuned,
		"code", logging.RUN_REPORT)
	return report, nil
}

func evaluatePrompt(ctx context.Context, base, fineTuned Model, index int, prompt, reference string, decoding model.DecodingConfig) (promptOutputs, error) {
	out := promptOutputs{reference: reference}
	var err error

	if out.baseText, err = base.Generate(ctx, prompt, decoding); err != nil {
		return out, &EvaluationError{PromptIndex: index, ModelRole: "base", Err: err}
	}
	if out.tunedText, err = fineTuned.Generate(ctx, prompt, decoding); err != nil {
		return out, &EvaluationError{PromptIndex: index, ModelRole: "fine-tuned", Err: err}
	}

	if out.baseLoss, out.baseTokens, err = base.ReferenceLoss(ctx, prompt, reference); err != nil {
		return out, &EvaluationError{PromptIndex: index, ModelRole: "base", Err: err}
	}
	if out.tunedLoss, out.tunedTokens, err = fineTuned.ReferenceLoss(ctx, prompt, reference); err != nil {
		return out, &EvaluationError{PromptIndex: index, ModelRole: "fine-tuned", Err: err}
	}

	return out, nil
}

func aggregate(outputs []promptOutputs) ComparisonReport {
	refs := make([]string, 0, len(outputs))
	baseTexts := make([]string, 0, len(outputs))
	tunedTexts := make([]string, 0, len(outputs))

	var baseRouge1, tunedRouge1 float64
	var baseRougeL, tunedRougeL float64
	var baseF1, tunedF1 float64

	for _, out := range outputs {
		ref := out.reference
		refs = append(refs, ref)
		baseTexts = append(baseTexts, out.baseText)
		tunedTexts = append(tunedTexts, out.tunedText)

		baseRouge1 += Rouge1(out.baseText, ref)
		tunedRouge1 += Rouge1(out.tunedText, ref)
		baseRougeL += RougeL(out.baseText, ref)
		tunedRougeL += RougeL(out.tunedText, ref)
		baseF1 += TokenF1(out.baseText, ref)
		tunedF1 += TokenF1(out.tunedText, ref)
	}

	n := float64(len(outputs))

	return ComparisonReport{
		PerMetric: map[string]MetricPair{
			MetricRouge1:  pair(baseRouge1/n, tunedRouge1/n),
			MetricRougeL:  pair(baseRougeL/n, tunedRougeL/n),
			MetricTokenF1: pair(baseF1/n, tunedF1/n),
			MetricBleu:    pair(CorpusBleu(baseTexts, refs), CorpusBleu(tunedTexts, refs)),
		},
		Perplexity:  pair(perplexity(outputs, false), perplexity(outputs, true)),
		PromptCount: len(outputs),
	}
}

// perplexity exponentiates the token-weighted mean cross entropy of the
// reference continuations.
func perplexity(outputs []promptOutputs, fineTuned bool) float64 {
	lossSum, tokenSum := 0.0, 0
	for _, out := range outputs {
		if fineTuned {
			lossSum += out.tunedLoss * float64(out.tunedTokens)
			tokenSum += out.tunedTokens
		} else {
			lossSum += out.baseLoss * float64(out.baseTokens)
			tokenSum += out.baseTokens
		}
	}
	if tokenSum == 0 {
		return math.Inf(1)
	}
	return math.Exp(lossSum / float64(tokenSum))
}
