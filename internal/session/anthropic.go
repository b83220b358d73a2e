package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultModel        = "claude-sonnet-4-5-20250929"
	defaultMaxTokens    = 4096
)

// AnthropicProvider calls the Anthropic Messages API via net/http.
type AnthropicProvider struct {
	baseURL string
	client  *http.Client
}

type AnthropicOption func(*AnthropicProvider)

func WithBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

func NewAnthropicProvider(opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		baseURL: anthropicAPIBase,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type anthropicRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []Message      `json:"messages"`
	Tools     []ToolDef      `json:"tools,omitempty"`
	Thinking  map[string]any `json:"thinking,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, cfg Config, history []Message) (*Reply, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	body := anthropicRequest{
		Model:     model,
		MaxTokens: defaultMaxTokens,
		System:    cfg.SystemPrompt,
		Messages:  history,
		Tools:     cfg.Tools,
	}
	if cfg.ThinkingLevel != "" && cfg.ThinkingLevel != "off" {
		body.Thinking = map[string]any{"type": "enabled", "budget_tokens": 2048}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	var apiKey string
	if cfg.GetAPIKey != nil {
		apiKey = cfg.GetAPIKey()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("anthropic: %s: %s", parsed.Error.Type, parsed.Error.Message)
		}
		return nil, fmt.Errorf("anthropic: status %d", resp.StatusCode)
	}

	reply := &Reply{}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			reply.Text += block.Text
		case "tool_use":
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			reply.Events = append(reply.Events, Event{
				Kind:   "tool_use",
				Name:   block.Name,
				Detail: input,
				At:     time.Now().UTC(),
			})
		}
	}
	return reply, nil
}
