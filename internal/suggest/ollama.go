// Package suggest drafts posts with a locally hosted model served by Ollama.
package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trendpost/internal/httpx"
)

const service = "ollama"

// Client talks to the Ollama HTTP API.
type Client struct {
	host  string
	model string
	http  *httpx.Client
}

func NewClient(host, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		host:  strings.TrimRight(host, "/"),
		model: model,
		http: httpx.New(httpx.Options{
			Service:     service,
			EnvPrefix:   "OLLAMA",
			Timeout:     timeout,
			RPS:         1,
			Burst:       2,
			MaxAttempts: 2,
			BaseBackoff: time.Second,
		}),
	}
}

// Model is the configured model name.
func (c *Client) Model() string { return c.model }

// HTTP exposes the underlying doer for tuning in tests.
func (c *Client) HTTP() *httpx.Client { return c.http }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate runs one non-streaming completion and returns the raw text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0.7},
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama generate: decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", out.Error)
	}
	return out.Response, nil
}

// Health is what Ping learned about the model host.
type Health struct {
	Models         []string
	ModelInstalled bool
}

// Ping lists the installed models. An unreachable host is an error; a
// missing model is reported through Health.ModelInstalled.
func (c *Client) Ping(ctx context.Context) (Health, error) {
	var h Health
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return h, fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()
	var raw struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return h, fmt.Errorf("ollama tags: decode: %w", err)
	}
	for _, m := range raw.Models {
		h.Models = append(h.Models, m.Name)
		if sameModel(m.Name, c.model) || sameModel(m.Model, c.model) {
			h.ModelInstalled = true
		}
	}
	return h, nil
}

// sameModel treats "mistral" and "mistral:latest" as the same model.
func sameModel(installed, want string) bool {
	if installed == "" || want == "" {
		return false
	}
	if installed == want {
		return true
	}
	if !strings.Contains(want, ":") {
		return installed == want+":latest"
	}
	return false
}
