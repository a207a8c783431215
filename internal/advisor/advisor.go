// Package advisor asks a language-model API to explain a failed test result.
package advisor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apiwatch/apiwatch/internal/storage"
)

// ErrNotConfigured indicates no API key is set.
var ErrNotConfigured = errors.New("language-model API key not configured")

// DefaultAPIBase is the chat-completions API root
const DefaultAPIBase = "https://api.openai.com"

// DefaultModel is used when none is configured
const DefaultModel = "gpt-4o-mini"

// Client calls the chat-completions API
type Client struct {
	apiBase    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Client. Empty apiBase and model fall back to defaults.
func New(apiBase, apiKey, model string) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiBase: apiBase,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// Explain asks for a likely cause and fix for a failed call, returning the
// model's answer as plain text.
func (c *Client) Explain(result *storage.TestResult) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	prompt := fmt.Sprintf(
		"An automated API regression test received status code %d with this response body: %s. "+
			"What is the likely cause and how do I fix it?",
		result.StatusCode, result.Response,
	)

	payload, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.apiBase+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completions request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completions API returned %d: %s", resp.StatusCode, string(raw))
	}

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("completions response is not valid JSON: %w", err)
	}
	if len(body.Choices) == 0 || body.Choices[0].Message.Content == "" {
		return "", errors.New("completions response contains no answer")
	}

	return body.Choices[0].Message.Content, nil
}
