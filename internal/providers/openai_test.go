package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/neverbot/internal/resilience"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]interface{})) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAIProvider("openai", "sk-test", srv.URL+"/v1/", "gpt-test")
}

func TestOpenAIProvider_SendsConversationHandle(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		assert.Equal(t, "gpt-test", body["model"])
		assert.Equal(t, "be witty", body["instructions"])
		assert.Equal(t, "resp_prev", body["previous_response_id"])
		assert.EqualValues(t, 256, body["max_output_tokens"])

		input := body["input"].([]interface{})
		require.Len(t, input, 1)
		assert.Equal(t, "what's 2+2", input[0].(map[string]interface{})["content"])

		_, _ = w.Write([]byte(`{"id":"resp_next","status":"completed","output_text":"  4, obviously. ","usage":{"input_tokens":12,"output_tokens":3,"total_tokens":15}}`))
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Instructions:   "be witty",
		Messages:       []Message{{Role: "user", Content: "what's 2+2"}},
		ConversationID: "resp_prev",
		Options:        map[string]interface{}{OptMaxTokens: 256},
	})
	require.NoError(t, err)
	assert.Equal(t, "4, obviously.", resp.Content)
	assert.Equal(t, "resp_next", resp.ConversationID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_TextFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "output items",
			payload: `{"id":"r1","output":[{"type":"reasoning","content":[]},{"type":"message","content":[{"type":"output_text","text":"from "},{"type":"output_text","text":"items"}]}]}`,
			want:    "from items",
		},
		{
			name:    "choices",
			payload: `{"id":"r2","choices":[{"message":{"content":"from choices"},"finish_reason":"stop"}]}`,
			want:    "from choices",
		},
		{
			name:    "empty",
			payload: `{"id":"r3","output":[]}`,
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
				_, _ = w.Write([]byte(tt.payload))
			})
			resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Content)
		})
	}
}

func TestOpenAIProvider_HTTPError(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode())
	assert.Equal(t, 3*time.Second, httpErr.RetryAfter)

	wait, ok := resilience.RetryAfterOf(err)
	assert.True(t, ok, "executor sees the server-requested wait")
	assert.Equal(t, 3*time.Second, wait)
}

func TestOpenAIProvider_ErrorPayload(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		_, _ = w.Write([]byte(`{"id":"r","error":{"code":"server_error","message":"model overloaded"}}`))
	})

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "server_error", apiErr.Code)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	assert.Greater(t, ParseRetryAfter(future), 30*time.Second)
}
