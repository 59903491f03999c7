// Package protocol defines the wire-level types exchanged between the
// chat transport, the pipeline, and conversation memory.
package protocol

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Capability is a top-level domain the assistant can act on.
type Capability string

const (
	CapabilityCalendar  Capability = "calendar"
	CapabilityTaskStore Capability = "taskStore"
	CapabilityEmail     Capability = "email"
	CapabilityMemory    Capability = "memory"
	CapabilityGeneral   Capability = "general"
	CapabilityMeta      Capability = "meta"
)

// KnownCapabilities lists every routable capability.
var KnownCapabilities = []Capability{
	CapabilityCalendar,
	CapabilityTaskStore,
	CapabilityEmail,
	CapabilityMemory,
	CapabilityGeneral,
	CapabilityMeta,
}

// IsKnownCapability reports whether c is a routable capability.
func IsKnownCapability(c Capability) bool {
	for _, k := range KnownCapabilities {
		if c == k {
			return true
		}
	}
	return false
}

// Language is the user-facing locale of a conversation.
type Language string

const (
	LanguageHebrew  Language = "he"
	LanguageEnglish Language = "en"
	LanguageOther   Language = "other"
)

// Normalize maps LanguageOther to English for prompt and template selection.
func (l Language) Normalize() Language {
	if l == LanguageHebrew {
		return LanguageHebrew
	}
	return LanguageEnglish
}

// Message is a single conversation message held in memory.
// Messages are never mutated after creation, except to clear expired
// metadata slots.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ExternalID is the transport-level message identifier, when known.
	// Appends with a duplicate ExternalID are no-ops.
	ExternalID string `json:"external_id,omitempty"`

	// ReplyToExternalID threads this message to a previous one.
	ReplyToExternalID string `json:"reply_to_external_id,omitempty"`

	// EstimatedTokens caches the token estimate for this message.
	EstimatedTokens int `json:"estimated_tokens"`

	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata is a tagged union of optional context slots attached to
// a message. At most one slot is set per message.
type MessageMetadata struct {
	Disambiguation *DisambiguationContext `json:"disambiguation,omitempty"`
	RecentEntities *RecentEntitiesContext `json:"recent_entities,omitempty"`
	Reply          *ReplyContext          `json:"reply,omitempty"`
}

// DisambiguationContext records the candidates shown to the user so a
// short numeric reply can be resolved against them.
type DisambiguationContext struct {
	Candidates []CandidateRef `json:"candidates"`
	EntityType string         `json:"entity_type"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the disambiguation context is past its TTL.
func (d *DisambiguationContext) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// CandidateRef is the minimal candidate projection stored in memory.
type CandidateRef struct {
	ID          string `json:"id"`
	DisplayText string `json:"display_text"`
}

// RecentEntitiesContext lists entities the assistant recently acted on.
type RecentEntitiesContext struct {
	EntityType string   `json:"entity_type"`
	IDs        []string `json:"ids"`
}

// ReplyContext carries the quoted message a user replied to.
type ReplyContext struct {
	ExternalID string `json:"external_id"`
	Excerpt    string `json:"excerpt"`
}
