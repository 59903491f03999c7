// Package executor defines the contract between the pipeline core and
// the capability backends (calendar, task store, email, notes).
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Common mutate operations. Backends may support a subset.
const (
	OpCreate         = "create"
	OpCreateMultiple = "createMultiple"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpDeleteByWindow = "deleteByWindow"
	OpUpdateByWindow = "updateByWindow"
	OpDeleteAll      = "deleteAll"
	OpComplete       = "complete"
	OpSend           = "send"
	OpStore          = "store"
	OpQuery          = "query"
)

// Entity is the backend-agnostic projection used for entity resolution.
type Entity struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`

	// IsRecurring marks an occurrence of a recurring series.
	IsRecurring       bool   `json:"is_recurring,omitempty"`
	RecurringSeriesID string `json:"recurring_series_id,omitempty"`

	// Raw carries backend-specific fields untouched.
	Raw map[string]any `json:"raw,omitempty"`
}

// ListFilter narrows a List call.
type ListFilter struct {
	TimeMin *time.Time
	TimeMax *time.Time
	Query   string
	Limit   int
}

// Executor is one capability backend.
type Executor interface {
	// Domain returns the entity domain this executor serves, e.g.
	// "calendar_event" or "task".
	Domain() string

	// List returns the user's entities matching the filter.
	List(ctx context.Context, userID string, filter ListFilter) ([]Entity, error)

	// Mutate applies a typed operation and returns backend data for the
	// response composer.
	Mutate(ctx context.Context, userID, op string, args map[string]any) (map[string]any, error)
}

// Registry holds executors keyed by domain.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor. Later registrations win, which lets tests
// replace production backends.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Domain()] = e
}

// Get returns the executor for a domain.
func (r *Registry) Get(domain string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[domain]
	if !ok {
		return nil, fmt.Errorf("no executor registered for domain %q", domain)
	}
	return e, nil
}

// Domains lists the registered domains.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for d := range r.executors {
		out = append(out, d)
	}
	return out
}
