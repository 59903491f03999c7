// Package entity bridges natural-language references ("the meeting with
// Dana tomorrow") to concrete entity IDs exposed by the executors.
package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/timectx"
)

// Special candidate ids for the recurring series-vs-instance choice.
const (
	ChoiceAll    = "all"
	ChoiceSingle = "single"
)

// CandidateMetadata is the typed metadata attached to a candidate.
type CandidateMetadata struct {
	IsRecurring       bool       `json:"is_recurring,omitempty"`
	RecurringSeriesID string     `json:"recurring_series_id,omitempty"`
	EventID           string     `json:"event_id,omitempty"`
	IsRecurringSeries bool       `json:"is_recurring_series,omitempty"`
	Start             *time.Time `json:"start,omitempty"`
	End               *time.Time `json:"end,omitempty"`
}

// Candidate is one scored match for a natural-language reference.
type Candidate struct {
	ID          string            `json:"id"`
	DisplayText string            `json:"display_text"`
	Score       float64           `json:"score"`
	Metadata    CandidateMetadata `json:"metadata"`
}

// Resolved carries the concrete ids merged into the operation args.
type Resolved struct {
	ResolvedIDs []string       `json:"resolved_ids"`
	Args        map[string]any `json:"args"`
	IsRecurring bool           `json:"is_recurring,omitempty"`
	SeriesID    string         `json:"series_id,omitempty"`
}

// Disambiguation asks the user to pick among candidates.
type Disambiguation struct {
	Candidates    []Candidate `json:"candidates"`
	Question      string      `json:"question"`
	AllowMultiple bool        `json:"allow_multiple"`
}

// NotFound reports that nothing matched.
type NotFound struct {
	Error       string `json:"error"`
	SearchedFor string `json:"searched_for"`
}

// ClarifyQuery reports that the reference itself was too vague to
// search for.
type ClarifyQuery struct {
	Error       string   `json:"error"`
	SearchedFor string   `json:"searched_for"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Resolution is the tagged union returned by every entity resolver.
// Exactly one field is set.
type Resolution struct {
	Resolved       *Resolved       `json:"resolved,omitempty"`
	Disambiguation *Disambiguation `json:"disambiguation,omitempty"`
	NotFound       *NotFound       `json:"not_found,omitempty"`
	ClarifyQuery   *ClarifyQuery   `json:"clarify_query,omitempty"`
}

// Context is the per-call resolution context.
type Context struct {
	UserID   string
	Language protocol.Language
	Time     timectx.Context
}

// Resolver resolves entity references for one domain.
type Resolver interface {
	// Domain returns the entity domain this resolver serves.
	Domain() string

	// Resolve maps the operation's natural-language references to ids.
	Resolve(ctx context.Context, op string, args map[string]any, rctx Context) Resolution
}

// Registry holds entity resolvers keyed by domain.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register adds a resolver.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Domain()] = res
}

// Get returns the resolver for a domain.
func (r *Registry) Get(domain string) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[domain]
	if !ok {
		return nil, fmt.Errorf("no entity resolver registered for domain %q", domain)
	}
	return res, nil
}
