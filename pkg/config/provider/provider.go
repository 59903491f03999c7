// Package provider abstracts where raw configuration bytes come from.
package provider

import "context"

// Type identifies a provider implementation.
type Type string

const (
	// TypeFile reads from a local file and watches it with fsnotify.
	TypeFile Type = "file"
)

// Provider loads raw configuration bytes and optionally watches for changes.
type Provider interface {
	// Type returns the provider type.
	Type() Type

	// Load reads the current configuration bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the source
	// changes. Returns a nil channel if watching is unsupported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases provider resources.
	Close() error
}
