// Package connector implements the decision adapter boundary: turning a
// canonical prompt into a vendor-specific chat API call and returning the
// raw response text. The engine core only sees the Connector interface and
// the error kinds; it never reads provider configuration or the process
// environment itself.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Connector sends one prompt to a chat model and returns the response text.
type Connector interface {
	// Provider returns the provider name, e.g. "openai".
	Provider() string
	// Model returns the concrete provider model identifier.
	Model() string
	SendPrompt(ctx context.Context, prompt string) (string, error)
}

// ProviderError is returned for non-2xx provider responses.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider error %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 200))
}

// Retryable reports whether the request may be retried: rate limits and
// server-side failures are, request errors are not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config holds provider client configuration. Credentials are injected at
// construction time; see ResolveAPIKey for the lookup chain used by the CLI
// and server wiring.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the provider model identifier (e.g. "gpt-4o"). Required.
	Model string

	// BaseURL overrides the provider endpoint, useful for testing.
	BaseURL string

	// MaxTokens caps the response length. Defaults to 1024.
	MaxTokens int

	// Temperature for sampling. Zero means the provider default.
	Temperature float64

	// HTTPClient allows injecting a custom HTTP client.
	// Defaults to a client with 60s timeout.
	HTTPClient *http.Client
}

func (c *Config) fill() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
}

// postJSON sends a JSON POST and decodes the JSON response into out.
// Non-2xx responses become *ProviderError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: invalid response JSON: %w", provider, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
