package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func fakeChatServer(t *testing.T, status func(call int32) int, answer string) (*httptest.Server, *atomic.Int32, *chatRequest) {
	t.Helper()
	var calls atomic.Int32
	last := &chatRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := calls.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(last))

		w.Header().Set("Content-Type", "application/json")
		if code := status(call); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   last.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, last
}

func newTestClient(baseURL string) *Client {
	oc := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(baseURL+"/v1/"),
		option.WithMaxRetries(0),
	)
	return NewClient(&oc, Options{Model: "gpt-4-turbo-preview", Temperature: 0.7, MaxTokens: 1000})
}

func TestComplete_SendsRolesAndBudget(t *testing.T) {
	srv, _, last := fakeChatServer(t, func(int32) int { return http.StatusOK }, "grounded answer")
	c := newTestClient(srv.URL)

	answer, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "only use context"},
		{Role: RoleUser, Content: "earlier question"},
		{Role: RoleAssistant, Content: "earlier answer"},
		{Role: RoleUser, Content: "context + question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", answer)

	assert.Equal(t, "gpt-4-turbo-preview", last.Model)
	assert.InDelta(t, 0.7, last.Temperature, 1e-9)
	assert.Equal(t, 1000, last.MaxTokens)
	assert.Nil(t, last.ResponseFormat)

	require.Len(t, last.Messages, 4)
	roles := []string{last.Messages[0].Role, last.Messages[1].Role, last.Messages[2].Role, last.Messages[3].Role}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestCompleteJSON_SetsResponseFormat(t *testing.T) {
	srv, _, last := fakeChatServer(t, func(int32) int { return http.StatusOK }, `{"tldr":"x"}`)
	c := newTestClient(srv.URL)

	out, err := c.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "summarize"}}, 0.3, 500)
	require.NoError(t, err)
	assert.Equal(t, `{"tldr":"x"}`, out)
	require.NotNil(t, last.ResponseFormat)
	assert.Equal(t, "json_object", last.ResponseFormat.Type)
	assert.Equal(t, 500, last.MaxTokens)
}

func TestComplete_RetriesRateLimitOnly(t *testing.T) {
	srv, calls, _ := fakeChatServer(t, func(call int32) int {
		if call == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	}, "ok")
	c := newTestClient(srv.URL)

	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	srv2, calls2, _ := fakeChatServer(t, func(int32) int { return http.StatusInternalServerError }, "")
	_, err = newTestClient(srv2.URL).Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls2.Load())
}
