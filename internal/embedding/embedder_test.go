package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/literaq/paperchat/internal/config"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// fakeEmbeddingServer answers /embeddings with vectors [len(text), index, 1],
// returned in reverse order to exercise index-based reordering.
func fakeEmbeddingServer(t *testing.T, status func(call int32) int) (*httptest.Server, *atomic.Int32, *embeddingRequest) {
	t.Helper()
	var calls atomic.Int32
	last := &embeddingRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(last))

		w.Header().Set("Content-Type", "application/json")
		if code := status(call); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
			return
		}

		data := make([]map[string]any, 0, len(last.Input))
		for i := len(last.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(last.Input[i])), float64(i), 1},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  last.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, last
}

func newTestEmbedder(t *testing.T, baseURL string, dims int) *Embedder {
	t.Helper()
	client, err := NewClient(config.OpenAIConfig{APIKey: "test-key", BaseURL: baseURL + "/v1/"})
	require.NoError(t, err)
	return NewEmbedder(client, Options{Model: "text-embedding-3-small", Dimensions: dims})
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.OpenAIConfig{})
	assert.Error(t, err)
}

func TestEmbedTexts_OrderedByIndex(t *testing.T) {
	srv, calls, last := fakeEmbeddingServer(t, func(int32) int { return http.StatusOK })
	e := newTestEmbedder(t, srv.URL, 3)

	vectors, err := e.EmbedTexts(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 0, 1}, vectors[0])
	assert.Equal(t, []float32{2, 1, 1}, vectors[1])
	assert.Equal(t, []float32{3, 2, 1}, vectors[2])
	assert.Equal(t, int32(1), calls.Load(), "One request per batch")
	assert.Equal(t, "text-embedding-3-small", last.Model)
	assert.Equal(t, 3, last.Dimensions)
}

func TestEmbedTexts_Empty(t *testing.T) {
	srv, calls, _ := fakeEmbeddingServer(t, func(int32) int { return http.StatusOK })
	e := newTestEmbedder(t, srv.URL, 3)

	vectors, err := e.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, calls.Load())
}

func TestEmbedTexts_RetriesRateLimit(t *testing.T) {
	srv, calls, _ := fakeEmbeddingServer(t, func(call int32) int {
		if call == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	})
	e := newTestEmbedder(t, srv.URL, 3)

	vectors, err := e.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedTexts_OtherErrorsArePermanent(t *testing.T) {
	srv, calls, _ := fakeEmbeddingServer(t, func(int32) int { return http.StatusBadRequest })
	e := newTestEmbedder(t, srv.URL, 3)

	_, err := e.EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "Non-429 errors must not be retried")
}

func TestEmbedTexts_DimensionMismatch(t *testing.T) {
	srv, _, _ := fakeEmbeddingServer(t, func(int32) int { return http.StatusOK })
	e := newTestEmbedder(t, srv.URL, 1536)

	_, err := e.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestEmbedQuery(t *testing.T) {
	srv, _, _ := fakeEmbeddingServer(t, func(int32) int { return http.StatusOK })
	e := newTestEmbedder(t, srv.URL, 3)

	vec, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 1}, vec)
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, -1}, toFloat32([]float64{0.5, -1}))
}
