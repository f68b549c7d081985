// ABOUTME: HTTP client for the hosted Cortex workflow-execution API.
// ABOUTME: The vendor API is opaque; this client only runs workflows and relays the stream.

package cortex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is the hosted workflow-execution API.
const DefaultBaseURL = "https://api.trycortex.ai/v1"

// Config holds the credentials and endpoint for one client.
type Config struct {
	// APIKey is the bearer credential, typically a widget client secret.
	APIKey string
	// BaseURL overrides DefaultBaseURL when set.
	BaseURL string
	// HTTPClient overrides http.DefaultClient when set.
	HTTPClient *http.Client
}

// Client talks to the workflow-execution API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a workflow-execution client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// RunWorkflowStream starts a workflow run and returns the raw event stream
// (newline-delimited "data:"-prefixed JSON step events). The caller owns
// the returned reader and must close it.
func (c *Client) RunWorkflowStream(ctx context.Context, workflowID string, input map[string]any) (io.ReadCloser, error) {
	resp, err := c.post(ctx, fmt.Sprintf("/apps/workflows/%s/runs/stream", workflowID), input)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// RunWorkflow starts a workflow run and waits for the complete result.
func (c *Client) RunWorkflow(ctx context.Context, workflowID string, input map[string]any) (map[string]any, error) {
	resp, err := c.post(ctx, fmt.Sprintf("/apps/workflows/%s/runs", workflowID), input)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding workflow result: %w", err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, input map[string]any) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("encoding workflow input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling workflow API: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("workflow API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}
