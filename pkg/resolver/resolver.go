// Package resolver translates plan steps into typed domain operations
// via per-capability LLM calls with deterministic keyword fallbacks.
package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/timectx"
)

// EntityTypeKey is the args key tagging the output for entity
// resolution downstream.
const EntityTypeKey = "_entityType"

// OutputType says whether the operation is ready to execute or still
// references entities by natural language.
type OutputType string

const (
	OutputExecute               OutputType = "execute"
	OutputNeedsEntityResolution OutputType = "needsEntityResolution"
)

// Output is the resolver's wire contract with the orchestrator. Args
// always carries an "operation" discriminator plus operation-specific
// fields.
type Output struct {
	StepID     string         `json:"stepId"`
	Type       OutputType     `json:"type"`
	Args       map[string]any `json:"args"`
	EntityType string         `json:"entityType"`
}

// Input is everything a resolver sees for one step.
type Input struct {
	Step           planner.PlanStep
	Time           timectx.Context
	Language       protocol.Language
	RecentMessages []*protocol.Message
	UserID         string
}

// Resolver is one capability's step translator.
type Resolver interface {
	// Name identifies the resolver in logs.
	Name() string

	// Capability returns the capability this resolver serves.
	Capability() protocol.Capability

	// SupportedActions lists the operations this resolver can emit.
	SupportedActions() []string

	// SystemPrompt returns the capability-specific system prompt.
	SystemPrompt() string

	// Schema returns the JSON schema the LLM output must satisfy.
	Schema() map[string]any

	// Resolve translates the step into a typed operation.
	Resolve(ctx context.Context, in *Input) (*Output, error)
}

// Registry holds resolvers keyed by capability.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[protocol.Capability]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[protocol.Capability]Resolver)}
}

// Register adds a resolver.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Capability()] = res
}

// Get returns the resolver for a capability.
func (r *Registry) Get(capability protocol.Capability) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[capability]
	if !ok {
		return nil, fmt.Errorf("no resolver registered for capability %q", capability)
	}
	return res, nil
}

// Capabilities lists the registered capabilities.
func (r *Registry) Capabilities() []protocol.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Capability, 0, len(r.resolvers))
	for c := range r.resolvers {
		out = append(out, c)
	}
	return out
}

func supportedOperation(op string, supported []string) bool {
	for _, s := range supported {
		if s == op {
			return true
		}
	}
	return false
}
