// Package testutils holds shared fakes for package tests.
package testutils

import (
	"context"
	"sync"

	"github.com/donnahq/donna/pkg/llms"
)

// ScriptedProvider is an llms.Provider that replays canned responses in
// order. When the script runs out it repeats the last response, which
// keeps retry paths simple to test.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	last      string
	err       error

	// Requests records every call for assertions.
	Requests []llms.Request
}

// NewScriptedProvider creates a provider that replays the responses.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// NewFailingProvider creates a provider that always errors.
func NewFailingProvider(err error) *ScriptedProvider {
	return &ScriptedProvider{err: err}
}

func (p *ScriptedProvider) Name() string  { return "scripted" }
func (p *ScriptedProvider) Model() string { return "scripted-model" }
func (p *ScriptedProvider) Close() error  { return nil }

// Push appends responses to the script.
func (p *ScriptedProvider) Push(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
}

func (p *ScriptedProvider) Complete(_ context.Context, req llms.Request) (*llms.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)

	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) > 0 {
		p.last = p.responses[0]
		p.responses = p.responses[1:]
		return &llms.Response{Text: p.last}, nil
	}
	if p.last != "" {
		return &llms.Response{Text: p.last}, nil
	}
	return &llms.Response{Text: "{}"}, nil
}

var _ llms.Provider = (*ScriptedProvider)(nil)
