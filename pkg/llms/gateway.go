package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Gateway is the single entry point the pipeline uses for LLM calls.
// It wraps a Provider with JSON parsing, repair, and bounded re-asks.
type Gateway struct {
	provider    Provider
	jsonRetries int
	logger      *slog.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithJSONRetries sets how many times a malformed JSON response is
// re-asked before giving up.
func WithJSONRetries(n int) GatewayOption {
	return func(g *Gateway) {
		g.jsonRetries = n
	}
}

// WithGatewayLogger overrides the default logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway wraps a provider.
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider:    provider,
		jsonRetries: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Complete returns the provider's free-text completion.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CompleteJSON runs the request in JSON mode and unmarshals the result
// into out. Malformed output is first run through jsonrepair; if that
// fails the model is re-asked with the parse error, up to the configured
// retry count.
func (g *Gateway) CompleteJSON(ctx context.Context, req Request, out any) error {
	req.JSONMode = true

	messages := req.Messages
	var lastErr error

	for attempt := 0; attempt <= g.jsonRetries; attempt++ {
		attemptReq := req
		attemptReq.Messages = messages

		resp, err := g.provider.Complete(ctx, attemptReq)
		if err != nil {
			return err
		}

		raw := extractJSON(resp.Text)
		if err := json.Unmarshal([]byte(raw), out); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if repaired, err := jsonrepair.JSONRepair(raw); err == nil {
			if err := json.Unmarshal([]byte(repaired), out); err == nil {
				g.logger.Debug("Recovered malformed JSON via repair", "provider", g.provider.Name())
				return nil
			}
		}

		if attempt < g.jsonRetries {
			g.logger.Warn("LLM returned malformed JSON, re-asking",
				"provider", g.provider.Name(), "attempt", attempt+1, "error", lastErr)
			messages = append(messages,
				ChatMessage{Role: RoleAssistant, Content: resp.Text},
				ChatMessage{Role: RoleUser, Content: fmt.Sprintf(
					"Your previous response was not valid JSON (%v). Respond again with only a valid JSON object.", lastErr)},
			)
		}
	}

	return fmt.Errorf("failed to parse JSON response after %d attempts: %w", g.jsonRetries+1, lastErr)
}

// extractJSON strips markdown code fences and surrounding prose,
// returning the outermost JSON object or array.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end > start {
		return text[start : end+1]
	}
	return text[start:]
}
