package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"golang.org/x/time/rate"
)

// ErrMalformedResponse is returned when the provider answers with the wrong
// number or shape of vectors.
var ErrMalformedResponse = errors.New("malformed embedding response")

// Options configures an Embedder.
type Options struct {
	Model             string
	Dimensions        int
	RequestsPerSecond float64 // 0 disables client-side throttling
}

// Embedder generates embeddings with an OpenAI-compatible endpoint.
// Requests are throttled client-side and retried with exponential backoff on rate limit errors.
type Embedder struct {
	client     *Client
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewEmbedder creates a new Embedder.
func NewEmbedder(client *Client, opts Options) *Embedder {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Embedder{
		client:     client,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		limiter:    limiter,
	}
}

// Dimensions returns the expected vector length.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// EmbedTexts returns one vector per input text, in input order, in a single request.
// Callers are responsible for batching.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embedBatchWithRetry(ctx, texts)
}

// EmbedQuery embeds a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors are treated as permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.model),
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if e.dimensions > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := e.client.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		out, err := e.decode(resp, len(texts))
		if err != nil {
			return backoff.Permanent(err)
		}
		embeddings = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	return embeddings, nil
}

// decode orders vectors by their response index and checks count and dimension.
func (e *Embedder) decode(resp *openai.CreateEmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrMalformedResponse, len(resp.Data), want)
	}

	out := make([][]float32, want)
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= want || out[idx] != nil {
			return nil, fmt.Errorf("%w: unexpected index %d", ErrMalformedResponse, idx)
		}
		if e.dimensions > 0 && len(data.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrMalformedResponse, idx, len(data.Embedding), e.dimensions)
		}
		out[idx] = toFloat32(data.Embedding)
	}
	return out, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
