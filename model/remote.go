package model

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// RemoteModel is a generation and scoring capability backed by an
// OpenAI-compatible inference server (the local llama.cpp-style server the
// serving layer also uses). It cannot train; the harness compares one
// RemoteModel serving the base weights against one serving base+adapter.
type RemoteModel struct {
	client    *openai.Client
	modelName string
}

func NewRemoteModel(endpoint, modelName string) *RemoteModel {
	config := openai.DefaultConfig("")
	config.BaseURL = endpoint
	return &RemoteModel{client: openai.NewClientWithConfig(config), modelName: modelName}
}

func (m *RemoteModel) Generate(ctx context.Context, prompt string, cfg DecodingConfig) (string, error) {
	seed := int(cfg.Seed)

	resp, err := m.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:            m.modelName,
		Prompt:           prompt,
		MaxTokens:        cfg.MaxNewTokens,
		Temperature:      float32(cfg.Temperature),
		TopP:             float32(cfg.TopP),
		FrequencyPenalty: float32(cfg.RepetitionPenalty - 1),
		Seed:             &seed,
	})
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generation returned no choices")
	}
	return resp.Choices[0].Text, nil
}

// ReferenceLoss scores the reference continuation under the model by echoing
// prompt+reference through the completion endpoint with logprobs and
// averaging the negative log-likelihood of the echoed tokens between the
// prompt boundary and the end of the reference. Tokens the server generates
// past the echoed text are never counted.
func (m *RemoteModel) ReferenceLoss(ctx context.Context, prompt, reference string) (float64, int, error) {
	// A zero max_tokens is omitted from the wire and the server falls back
	// to its own default, so request a single token and rely on the offset
	// bounds below to keep it out of the loss.
	resp, err := m.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:     m.modelName,
		Prompt:    prompt + reference,
		MaxTokens: 1,
		Echo:      true,
		LogProbs:  1,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("scoring request failed: %w", err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].LogProbs.TokenLogprobs) == 0 {
		return 0, 0, fmt.Errorf("scoring response missing logprobs")
	}

	logprobs := resp.Choices[0].LogProbs
	sum, count := 0.0, 0
	for i, offset := range logprobs.TextOffset {
		if offset < len(prompt) || offset >= len(prompt)+len(reference) || i >= len(logprobs.TokenLogprobs) {
			continue
		}
		sum += float64(logprobs.TokenLogprobs[i])
		count++
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("no reference tokens were scored")
	}

	return -sum / float64(count), count, nil
}
