package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/httpclient"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	cfg        config.LLMConfig
	baseURL    string
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []ChatMessage         `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
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

func (p *OpenAIProvider) Name() string {
	return string(config.LLMProviderOpenAI)
}

func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

// Complete performs a single chat completion call.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	apiReq := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = &req.MaxTokens
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	body, err := p.post(ctx, "/chat/completions", apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("openai error: %s (type: %s, code: %s)",
			apiResp.Error.Message, apiResp.Error.Type, apiResp.Error.Code)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Response{
		Text:       apiResp.Choices[0].Message.Content,
		TokensUsed: apiResp.Usage.TotalTokens,
		Model:      p.cfg.Model,
		StopReason: apiResp.Choices[0].FinishReason,
	}, nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, payload any) ([]byte, error) {
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
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

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

func (p *OpenAIProvider) Close() error {
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
