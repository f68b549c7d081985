// ABOUTME: Tests for the workflow-execution API client against a local fixture.

package cortex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RunWorkflowStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/apps/workflows/wf-1/runs/stream", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "input")

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"step\":\"start\"}\n")
		io.WriteString(w, "data: {\"output\":{\"MODEL\":{\"output\":{\"message\":\"Hi\"}}}}\n")
	}))
	defer srv.Close()

	client := New(Config{APIKey: "sk_test", BaseURL: srv.URL})
	stream, err := client.RunWorkflowStream(context.Background(), "wf-1", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var text string
	err = ScanStream(stream, func(event map[string]any) {
		if got, ok := AssistantText(event); ok {
			text = got
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi", text)
}

func TestClient_RunWorkflowStream_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := client.RunWorkflowStream(context.Background(), "wf-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestClient_RunWorkflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps/workflows/wf-2/runs", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": "completed"})
	}))
	defer srv.Close()

	client := New(Config{APIKey: "sk_test", BaseURL: srv.URL})
	result, err := client.RunWorkflow(context.Background(), "wf-2", map[string]any{"messages": []any{}})
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])
}
