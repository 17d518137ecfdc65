package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
			"usage":   map[string]any{"total_tokens": 12},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Generate(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, http.StatusOK, "Looks healthy.", &body)

	gen := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "review-model", MaxTokens: 256}, nil)
	out, err := gen.Generate(context.Background(), "explain these findings")
	require.NoError(t, err)
	assert.Equal(t, "Looks healthy.", out)

	assert.Equal(t, "review-model", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "explain these findings", msgs[1].(map[string]any)["content"])
}

func TestOpenAI_ServerErrorIsUnavailable(t *testing.T) {
	srv := completionServer(t, http.StatusServiceUnavailable, "", nil)
	gen := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	_, err := gen.Generate(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAI_EmptyCompletion(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "", nil)
	gen := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)

	_, err := gen.Generate(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	gen := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, err := gen.Generate(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNew_WithoutKeyIsDisabled(t *testing.T) {
	gen := New(Config{}, nil)
	assert.IsType(t, Disabled{}, gen)
	_, err := gen.Generate(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
}
