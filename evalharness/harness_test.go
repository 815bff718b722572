package evalharness_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/dzuokumor/LoRA/evalharness"
	"github.com/dzuokumor/LoRA/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel returns canned generations and reference losses keyed by
// prompt, failing on prompts listed in failOn.
type scriptedModel struct {
	generations map[string]string
	losses      map[string]float64
	tokens      int
	failOn      map[string]bool
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string, cfg model.DecodingConfig) (string, error) {
	if m.failOn[prompt] {
		return "", fmt.Errorf("inference server returned 500")
	}
	text, ok := m.generations[prompt]
	if !ok {
		return "", fmt.Errorf("no scripted generation for prompt %q", prompt)
	}
	return text, nil
}

func (m *scriptedModel) ReferenceLoss(ctx context.Context, prompt, reference string) (float64, int, error) {
	if m.failOn[prompt] {
		return 0, 0, fmt.Errorf("inference server returned 500")
	}
	return m.losses[prompt], m.tokens, nil
}

func TestEvaluateIdenticalHandlesZeroDeltas(t *testing.T) {
	prompts := []string{"what is overfitting", "explain dropout"}
	references := []string{
		"overfitting is when a model memorizes training data",
		"dropout randomly disables units during training",
	}

	handle := &scriptedModel{
		generations: map[string]string{
			prompts[0]: "overfitting means the model memorizes its training data",
			prompts[1]: "dropout disables random units while training",
		},
		losses: map[string]float64{prompts[0]: 1.1, prompts[1]: 0.9},
		tokens: 10,
	}

	report, err := evalharness.Evaluate(context.Background(), handle, handle, prompts, references, model.DecodingConfig{Seed: 42})
	require.NoError(t, err)

	require.Len(t, report.PerMetric, 4)
	for name, p := range report.PerMetric {
		assert.Zero(t, p.Delta, "metric %v", name)
		assert.Equal(t, p.Base, p.FineTuned, "metric %v", name)
	}
	assert.Zero(t, report.Perplexity.Delta)
	assert.Equal(t, 2, report.PromptCount)
	assert.Zero(t, report.Excluded)
}

func TestEvaluateReportsAllFixedMetrics(t *testing.T) {
	prompts := []string{"p"}
	references := []string{"the reference answer"}
	handle := &scriptedModel{
		generations: map[string]string{"p": "the generated answer"},
		losses:      map[string]float64{"p": 1.0},
		tokens:      4,
	}

	report, err := evalharness.Evaluate(context.Background(), handle, handle, prompts, references, model.DecodingConfig{})
	require.NoError(t, err)

	for _, name := range []string{
		evalharness.MetricRouge1,
		evalharness.MetricRougeL,
		evalharness.MetricTokenF1,
		evalharness.MetricBleu,
	} {
		_, ok := report.PerMetric[name]
		assert.True(t, ok, "missing metric %v", name)
	}
}

func TestEvaluatePerplexityFromReferenceLoss(t *testing.T) {
	prompts := []string{"p"}
	references := []string{"r"}

	base := &scriptedModel{generations: map[string]string{"p": "x"}, losses: map[string]float64{"p": 2.0}, tokens: 5}
	tuned := &scriptedModel{generations: map[string]string{"p": "x"}, losses: map[string]float64{"p": 1.0}, tokens: 5}

	report, err := evalharness.Evaluate(context.Background(), base, tuned, prompts, references, model.DecodingConfig{})
	require.NoError(t, err)

	assert.InDelta(t, math.Exp(2.0), report.Perplexity.Base, 1e-9)
	assert.InDelta(t, math.Exp(1.0), report.Perplexity.FineTuned, 1e-9)
	assert.Less(t, report.Perplexity.Delta, 0.0)
}

func TestEvaluateExcludesFailedPrompts(t *testing.T) {
	prompts := []string{"good", "bad", "also good"}
	references := []string{"ref one", "ref two", "ref three"}

	handle := &scriptedModel{
		generations: map[string]string{"good": "ref one", "also good": "ref three"},
		losses:      map[string]float64{"good": 1.0, "also good": 1.0},
		tokens:      3,
		failOn:      map[string]bool{"bad": true},
	}

	report, err := evalharness.Evaluate(context.Background(), handle, handle, prompts, references, model.DecodingConfig{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.PromptCount)
	assert.Equal(t, 1, report.Excluded)

	// Surviving prompts stay aligned with their own references, so identical
	// generations still score perfectly.
	assert.Equal(t, 1.0, report.PerMetric[evalharness.MetricRouge1].FineTuned)
}

func TestEvaluateAllPromptsFailed(t *testing.T) {
	handle := &scriptedModel{failOn: map[string]bool{"p": true}}

	_, err := evalharness.Evaluate(context.Background(), handle, handle, []string{"p"}, []string{"r"}, model.DecodingConfig{})
	assert.ErrorContains(t, err, "all 1 evaluation prompts failed")
}

func TestEvaluateInputValidation(t *testing.T) {
	handle := &scriptedModel{}

	_, err := evalharness.Evaluate(context.Background(), handle, handle, nil, nil, model.DecodingConfig{})
	assert.ErrorContains(t, err, "no evaluation prompts")

	_, err = evalharness.Evaluate(context.Background(), handle, handle, []string{"p"}, []string{"a", "b"}, model.DecodingConfig{})
	assert.ErrorContains(t, err, "1 prompts but 2 references")
}

func TestEvaluationErrorUnwraps(t *testing.T) {
	inner := errors.New("connection refused")
	err := &evalharness.EvaluationError{PromptIndex: 3, ModelRole: "base", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "prompt 3")
	assert.Contains(t, err.Error(), "base")
}
