package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/httpclient"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	cfg        config.LLMConfig
	baseURL    string
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		cfg:     cfg,
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}
}

func (p *AnthropicProvider) Name() string {
	return string(config.LLMProviderAnthropic)
}

func (p *AnthropicProvider) Model() string {
	return p.cfg.Model
}

// Complete performs a single messages API call. System-role messages
// are lifted into the request-level system prompt. In JSON mode the
// assistant turn is prefilled with "{" to force a JSON object.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var systemParts []string
	messages := make([]ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		messages = append(messages, msg)
	}

	prefilled := false
	if req.JSONMode {
		messages = append(messages, ChatMessage{Role: RoleAssistant, Content: "{"})
		prefilled = true
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	apiReq := anthropicRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		System:      strings.Join(systemParts, "\n\n"),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	body, err := p.post(ctx, "/messages", apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic error: %s (type: %s)", apiResp.Error.Message, apiResp.Error.Type)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := text.String()
	if prefilled {
		content = "{" + content
	}

	return &Response{
		Text:       content,
		TokensUsed: apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		Model:      p.cfg.Model,
		StopReason: apiResp.StopReason,
	}, nil
}

func (p *AnthropicProvider) post(ctx context.Context, path string, payload any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *AnthropicProvider) Close() error {
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
