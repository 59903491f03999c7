// Package config defines and loads the assistant configuration.
//
// Configuration is YAML with ${ENV_VAR} expansion. Every section exposes
// SetDefaults and Validate; the loader applies them after decoding.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server,omitempty" json:"server,omitempty"`
	LLM        LLMConfig        `yaml:"llm,omitempty" json:"llm,omitempty"`
	Planner    PlannerConfig    `yaml:"planner,omitempty" json:"planner,omitempty"`
	Memory     MemoryConfig     `yaml:"memory,omitempty" json:"memory,omitempty"`
	Thresholds ThresholdsConfig `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	HITL       HITLConfig       `yaml:"hitl,omitempty" json:"hitl,omitempty"`
	Pipeline   PipelineConfig   `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Checkpoint CheckpointConfig `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	Resolver   ResolverConfig   `yaml:"resolver,omitempty" json:"resolver,omitempty"`
	Notes      NotesConfig      `yaml:"notes,omitempty" json:"notes,omitempty"`
	Language   string           `yaml:"language,omitempty" json:"language,omitempty" jsonschema:"enum=he,enum=en,default=he"`
	Timezone   string           `yaml:"timezone,omitempty" json:"timezone,omitempty" jsonschema:"default=Asia/Jerusalem"`
	Logging    LoggingConfig    `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=0.0.0.0"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8080,minimum=1,maximum=65535"`

	// WebhookSecret, when set, is required in the X-Webhook-Secret header
	// of inbound deliveries. Supports ${VAR} expansion.
	WebhookSecret string `yaml:"webhook_secret,omitempty" json:"webhook_secret,omitempty"`
}

// PlannerConfig configures the intent planner.
type PlannerConfig struct {
	// Model overrides the gateway default model for planning calls.
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"default=0.3"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"default=2500"`

	// ConfidenceThreshold below which the gate asks for clarification.
	// The comparison is strict: exactly the threshold does not interrupt.
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty" json:"confidence_threshold,omitempty" jsonschema:"default=0.7"`
}

// MemoryConfig bounds the per-user conversation window.
type MemoryConfig struct {
	MaxContextMessages int           `yaml:"max_context_messages,omitempty" json:"max_context_messages,omitempty" jsonschema:"default=10"`
	MaxTotalTokens     int           `yaml:"max_total_tokens,omitempty" json:"max_total_tokens,omitempty" jsonschema:"default=500"`
	MaxSystemMessages  int           `yaml:"max_system_messages,omitempty" json:"max_system_messages,omitempty" jsonschema:"default=3"`
	CharsPerToken      float64       `yaml:"chars_per_token,omitempty" json:"chars_per_token,omitempty" jsonschema:"default=3.5"`
	ConversationTTL    time.Duration `yaml:"conversation_ttl,omitempty" json:"conversation_ttl,omitempty" jsonschema:"default=12h"`
	DisambiguationTTL  time.Duration `yaml:"disambiguation_ttl,omitempty" json:"disambiguation_ttl,omitempty" jsonschema:"default=5m"`

	// TokenizerModel selects the tiktoken encoding used for token
	// estimation. Empty disables tiktoken and uses the chars-per-token
	// heuristic (better for mixed Hebrew/English content).
	TokenizerModel string `yaml:"tokenizer_model,omitempty" json:"tokenizer_model,omitempty"`
}

// ThresholdsConfig holds the entity-resolution scoring thresholds.
type ThresholdsConfig struct {
	FuzzyMatchMin           float64 `yaml:"fuzzy_match_min,omitempty" json:"fuzzy_match_min,omitempty" jsonschema:"default=0.3"`
	DisambiguationGap       float64 `yaml:"disambiguation_gap,omitempty" json:"disambiguation_gap,omitempty" jsonschema:"default=0.2"`
	CalendarDeleteThreshold float64 `yaml:"calendar_delete_threshold,omitempty" json:"calendar_delete_threshold,omitempty" jsonschema:"default=0.4"`
}

// HITLConfig configures interrupt handling.
type HITLConfig struct {
	// InterruptTimeout expires abandoned interrupts.
	InterruptTimeout time.Duration `yaml:"interrupt_timeout,omitempty" json:"interrupt_timeout,omitempty" jsonschema:"default=15m"`

	// MaxDisambiguationOptions caps the candidate list shown to the user.
	MaxDisambiguationOptions int `yaml:"max_disambiguation_options,omitempty" json:"max_disambiguation_options,omitempty" jsonschema:"default=5"`
}

// PipelineConfig bounds a turn's execution.
type PipelineConfig struct {
	// CallTimeout is the wall deadline for a single LLM or executor call.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty" jsonschema:"default=30s"`

	// TurnTimeout is the wall deadline for a turn, excluding HITL wait.
	TurnTimeout time.Duration `yaml:"turn_timeout,omitempty" json:"turn_timeout,omitempty" jsonschema:"default=60s"`
}

// CheckpointBackend selects where suspended turn state is stored.
type CheckpointBackend string

const (
	CheckpointBackendMemory CheckpointBackend = "memory"
	CheckpointBackendSQLite CheckpointBackend = "sqlite"
)

// CheckpointConfig configures the checkpoint store.
type CheckpointConfig struct {
	Backend  CheckpointBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"enum=memory,enum=sqlite,default=memory"`
	Path     string            `yaml:"path,omitempty" json:"path,omitempty"`
	TTL      time.Duration     `yaml:"ttl,omitempty" json:"ttl,omitempty" jsonschema:"default=30m"`
	Capacity int               `yaml:"capacity,omitempty" json:"capacity,omitempty" jsonschema:"default=1024"`
}

// ResolverConfig holds capability-resolver product settings.
type ResolverConfig struct {
	// CompleteDeletesTask keeps the legacy behavior where "complete" on a
	// reminder deletes it rather than marking it done.
	CompleteDeletesTask *bool `yaml:"complete_deletes_task,omitempty" json:"complete_deletes_task,omitempty" jsonschema:"default=true"`
}

// CompleteDeletes returns the effective complete-deletes-task setting.
func (c *ResolverConfig) CompleteDeletes() bool {
	if c.CompleteDeletesTask == nil {
		return true
	}
	return *c.CompleteDeletesTask
}

// NotesConfig configures the embedded notes (vector memory) executor.
type NotesConfig struct {
	// Path is the on-disk location of the vector store. Empty keeps the
	// store in memory only.
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"default=donna_notes"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=simple,enum=verbose,default=simple"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	c.LLM.SetDefaults()

	if c.Planner.Temperature == 0 {
		c.Planner.Temperature = 0.3
	}
	if c.Planner.MaxTokens == 0 {
		c.Planner.MaxTokens = 2500
	}
	if c.Planner.ConfidenceThreshold == 0 {
		c.Planner.ConfidenceThreshold = 0.7
	}

	if c.Memory.MaxContextMessages == 0 {
		c.Memory.MaxContextMessages = 10
	}
	if c.Memory.MaxTotalTokens == 0 {
		c.Memory.MaxTotalTokens = 500
	}
	if c.Memory.MaxSystemMessages == 0 {
		c.Memory.MaxSystemMessages = 3
	}
	if c.Memory.CharsPerToken == 0 {
		c.Memory.CharsPerToken = 3.5
	}
	if c.Memory.ConversationTTL == 0 {
		c.Memory.ConversationTTL = 12 * time.Hour
	}
	if c.Memory.DisambiguationTTL == 0 {
		c.Memory.DisambiguationTTL = 5 * time.Minute
	}

	if c.Thresholds.FuzzyMatchMin == 0 {
		c.Thresholds.FuzzyMatchMin = 0.3
	}
	if c.Thresholds.DisambiguationGap == 0 {
		c.Thresholds.DisambiguationGap = 0.2
	}
	if c.Thresholds.CalendarDeleteThreshold == 0 {
		c.Thresholds.CalendarDeleteThreshold = 0.4
	}

	if c.HITL.InterruptTimeout == 0 {
		c.HITL.InterruptTimeout = 15 * time.Minute
	}
	if c.HITL.MaxDisambiguationOptions == 0 {
		c.HITL.MaxDisambiguationOptions = 5
	}

	if c.Pipeline.CallTimeout == 0 {
		c.Pipeline.CallTimeout = 30 * time.Second
	}
	if c.Pipeline.TurnTimeout == 0 {
		c.Pipeline.TurnTimeout = 60 * time.Second
	}

	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = CheckpointBackendMemory
	}
	if c.Checkpoint.TTL == 0 {
		c.Checkpoint.TTL = 30 * time.Minute
	}
	if c.Checkpoint.Capacity == 0 {
		c.Checkpoint.Capacity = 1024
	}

	if c.Notes.Collection == "" {
		c.Notes.Collection = "donna_notes"
	}

	if c.Language == "" {
		c.Language = "he"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Jerusalem"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.Planner.ConfidenceThreshold < 0 || c.Planner.ConfidenceThreshold > 1 {
		return fmt.Errorf("planner.confidence_threshold must be in [0, 1], got %g", c.Planner.ConfidenceThreshold)
	}
	if c.Thresholds.FuzzyMatchMin < 0 || c.Thresholds.FuzzyMatchMin > 1 {
		return fmt.Errorf("thresholds.fuzzy_match_min must be in [0, 1], got %g", c.Thresholds.FuzzyMatchMin)
	}
	if c.Thresholds.DisambiguationGap < 0 || c.Thresholds.DisambiguationGap > 1 {
		return fmt.Errorf("thresholds.disambiguation_gap must be in [0, 1], got %g", c.Thresholds.DisambiguationGap)
	}
	switch c.Checkpoint.Backend {
	case CheckpointBackendMemory:
	case CheckpointBackendSQLite:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported checkpoint.backend: %s (supported: memory, sqlite)", c.Checkpoint.Backend)
	}
	if c.Language != "he" && c.Language != "en" {
		return fmt.Errorf("language must be he or en, got %s", c.Language)
	}
	return nil
}
