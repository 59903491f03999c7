// Package checkpoint persists suspended pipeline state between turns.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/donnahq/donna/pkg/config"
)

// ErrNotFound is returned when no live checkpoint exists for the key.
var ErrNotFound = errors.New("checkpoint not found")

// Record is one suspended turn. State is the orchestrator's serialized
// pipeline state, stored opaquely.
type Record struct {
	UserID    string    `json:"user_id"`
	TurnID    string    `json:"turn_id"`
	State     []byte    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its TTL.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store is the checkpoint persistence contract. Load returns the most
// recent live checkpoint for a user; expired records behave as absent.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, userID string) (*Record, error)
	Delete(ctx context.Context, userID string) error
	Close() error
}

// New builds the store selected by the configuration.
func New(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case config.CheckpointBackendSQLite:
		return NewSQLiteStore(cfg.Path, cfg.TTL)
	default:
		return NewMemoryStore(cfg.Capacity, cfg.TTL)
	}
}
