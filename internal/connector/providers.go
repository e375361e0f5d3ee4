package connector

import (
	"context"
	"fmt"
	"strings"
)

// OpenAI talks to the OpenAI chat completions API.
type OpenAI struct {
	cfg Config
}

// NewOpenAI creates an OpenAI connector.
func NewOpenAI(cfg Config) *OpenAI {
	cfg.fill()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{cfg: cfg}
}

func (c *OpenAI) Provider() string { return "openai" }
func (c *OpenAI) Model() string    { return c.cfg.Model }

func (c *OpenAI) SendPrompt(ctx context.Context, prompt string) (string, error) {
	req := map[string]any{
		"model":    c.cfg.Model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	if c.cfg.Temperature != 0 {
		req["temperature"] = c.cfg.Temperature
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	if err := postJSON(ctx, c.cfg.HTTPClient, c.Provider(), url, headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// Anthropic talks to the Anthropic messages API.
type Anthropic struct {
	cfg Config
}

// NewAnthropic creates an Anthropic connector.
func NewAnthropic(cfg Config) *Anthropic {
	cfg.fill()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	return &Anthropic{cfg: cfg}
}

func (c *Anthropic) Provider() string { return "anthropic" }
func (c *Anthropic) Model() string    { return c.cfg.Model }

func (c *Anthropic) SendPrompt(ctx context.Context, prompt string) (string, error) {
	req := map[string]any{
		"model":      c.cfg.Model,
		"max_tokens": c.cfg.MaxTokens,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/messages"
	if err := postJSON(ctx, c.cfg.HTTPClient, c.Provider(), url, headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic: empty completion")
	}
	return resp.Content[0].Text, nil
}

// Mistral talks to the Mistral chat completions API.
type Mistral struct {
	cfg Config
}

// NewMistral creates a Mistral connector.
func NewMistral(cfg Config) *Mistral {
	cfg.fill()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mistral.ai/v1"
	}
	return &Mistral{cfg: cfg}
}

func (c *Mistral) Provider() string { return "mistral" }
func (c *Mistral) Model() string    { return c.cfg.Model }

func (c *Mistral) SendPrompt(ctx context.Context, prompt string) (string, error) {
	req := map[string]any{
		"model":    c.cfg.Model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	if err := postJSON(ctx, c.cfg.HTTPClient, c.Provider(), url, headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("mistral: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
