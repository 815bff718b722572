package model_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dzuokumor/LoRA/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSidecar(t *testing.T) (*httptest.Server, *model.TrainerClient) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		var spec model.AdapterSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, 16, spec.Rank)
		assert.Equal(t, 32, spec.Alpha)

		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-123"})
	})

	mux.HandleFunc("POST /v1/runs/run-123/forward-loss", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TokenIDs [][]int `json:"token_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.TokenIDs, 2)

		json.NewEncoder(w).Encode(map[string]float64{"loss": 1.25})
	})

	mux.HandleFunc("POST /v1/runs/run-123/step", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/runs/run-123/eval-loss", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	})

	mux.HandleFunc("GET /v1/runs/run-123/adapter", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("adapter-bytes"))
	})

	mux.HandleFunc("GET /v1/runs/run-123/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.Info{BaseModel: "tinyllama", TrainableParams: 4505600})
	})

	mux.HandleFunc("DELETE /v1/runs/run-123", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v1/encode", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]int{"token_ids": {5, 6, 7}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, model.NewTrainerClient(server.URL)
}

func TestTrainerRunLifecycle(t *testing.T) {
	_, client := newTestSidecar(t)
	ctx := context.Background()

	run, err := client.StartRun(ctx, model.AdapterSpec{Rank: 16, Alpha: 32, LearningRate: 2e-4})
	require.NoError(t, err)

	loss, err := run.ForwardAndLoss(ctx, model.Batch{TokenIDs: [][]int{{1, 2}, {3, 4}}})
	require.NoError(t, err)
	assert.Equal(t, 1.25, loss)

	require.NoError(t, run.Step(ctx))

	adapter, err := run.ExportAdapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("adapter-bytes"), adapter)

	info, err := run.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4505600), info.TrainableParams)

	require.NoError(t, run.Release(ctx))
}

func TestTrainerSignalsResourceExhaustion(t *testing.T) {
	_, client := newTestSidecar(t)
	ctx := context.Background()

	run, err := client.StartRun(ctx, model.AdapterSpec{Rank: 16, Alpha: 32})
	require.NoError(t, err)

	_, err = run.EvalLoss(ctx, model.Batch{TokenIDs: [][]int{{1}}})
	assert.ErrorIs(t, err, model.ErrResourceExhausted)
}

func TestTrainerEncode(t *testing.T) {
	_, client := newTestSidecar(t)

	tokens, err := client.Encode("what is a learning rate", 512)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, tokens)
}

func TestTrainerErrorIncludesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "run not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := model.NewTrainerClient(server.URL)
	_, err := client.Encode("text", 0)
	assert.ErrorContains(t, err, "run not found")
	assert.ErrorContains(t, err, "404")
}
