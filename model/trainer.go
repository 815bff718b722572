package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TrainerClient talks to the trainer sidecar, the process that owns the
// accelerator and exposes forward/step/generate as HTTP calls. One sidecar
// run maps to one adapter being trained.
type TrainerClient struct {
	endpoint string
	client   *http.Client
}

func NewTrainerClient(endpoint string) *TrainerClient {
	return &TrainerClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Minute},
	}
}

// AdapterSpec is the trainer-side description of the adapter to attach to
// the frozen base model for a run.
type AdapterSpec struct {
	Rank          int      `json:"rank"`
	Alpha         int      `json:"alpha"`
	Dropout       float64  `json:"dropout"`
	LearningRate  float64  `json:"learning_rate"`
	TargetModules []string `json:"target_modules"`
}

func (c *TrainerClient) makeRequest(ctx context.Context, method, path string, body any, dest any) error {
	endpoint, err := url.JoinPath(c.endpoint, path)
	if err != nil {
		return fmt.Errorf("error creating trainer url: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error serializing trainer request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("error creating trainer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error calling trainer: %w", err)
	}
	defer resp.Body.Close()

	// The sidecar signals accelerator memory exhaustion with 507 so the
	// runner can distinguish it from transport failures.
	if resp.StatusCode == http.StatusInsufficientStorage {
		return ErrResourceExhausted
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trainer request %v failed with status %d: %s", path, resp.StatusCode, string(msg))
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("error parsing trainer response for %v: %w", path, err)
		}
	}
	return nil
}

// Encode tokenizes text with the base model's own tokenizer.
func (c *TrainerClient) Encode(text string, maxLength int) ([]int, error) {
	var resp struct {
		TokenIDs []int `json:"token_ids"`
	}
	req := map[string]any{"text": text, "max_length": maxLength}
	if err := c.makeRequest(context.Background(), http.MethodPost, "v1/encode", req, &resp); err != nil {
		return nil, err
	}
	return resp.TokenIDs, nil
}

// StartRun attaches a fresh adapter to the base model and returns the handle
// the experiment runner drives. The handle owns the accelerator's memory
// until Release.
func (c *TrainerClient) StartRun(ctx context.Context, spec AdapterSpec) (*TrainerRun, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.makeRequest(ctx, http.MethodPost, "v1/runs", spec, &resp); err != nil {
		return nil, fmt.Errorf("error starting trainer run: %w", err)
	}
	return &TrainerRun{client: c, runID: resp.RunID}, nil
}

// TrainerRun implements Trainable against one sidecar run.
type TrainerRun struct {
	client *TrainerClient
	runID  string
}

type lossResponse struct {
	Loss float64 `json:"loss"`
}

func (r *TrainerRun) ForwardAndLoss(ctx context.Context, batch Batch) (float64, error) {
	var resp lossResponse
	err := r.client.makeRequest(ctx, http.MethodPost, fmt.Sprintf("v1/runs/%v/forward-loss", r.runID),
		map[string]any{"token_ids": batch.TokenIDs}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Loss, nil
}

func (r *TrainerRun) Step(ctx context.Context) error {
	return r.client.makeRequest(ctx, http.MethodPost, fmt.Sprintf("v1/runs/%v/step", r.runID), nil, nil)
}

func (r *TrainerRun) EvalLoss(ctx context.Context, batch Batch) (float64, error) {
	var resp lossResponse
	err := r.client.makeRequest(ctx, http.MethodPost, fmt.Sprintf("v1/runs/%v/eval-loss", r.runID),
		map[string]any{"token_ids": batch.TokenIDs}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Loss, nil
}

func (r *TrainerRun) ExportAdapter(ctx context.Context) ([]byte, error) {
	endpoint, err := url.JoinPath(r.client.endpoint, fmt.Sprintf("v1/runs/%v/adapter", r.runID))
	if err != nil {
		return nil, fmt.Errorf("error creating trainer url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating adapter export request: %w", err)
	}

	resp, err := r.client.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error exporting adapter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("adapter export failed with status %d: %s", resp.StatusCode, string(msg))
	}

	return io.ReadAll(resp.Body)
}

func (r *TrainerRun) Info(ctx context.Context) (Info, error) {
	var info Info
	err := r.client.makeRequest(ctx, http.MethodGet, fmt.Sprintf("v1/runs/%v/info", r.runID), nil, &info)
	return info, err
}

func (r *TrainerRun) Release(ctx context.Context) error {
	return r.client.makeRequest(ctx, http.MethodDelete, fmt.Sprintf("v1/runs/%v", r.runID), nil, nil)
}
