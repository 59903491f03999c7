// Package memory implements the bounded per-user conversation window
// that is the sole conversational context source for all LLM calls.
package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/protocol"
)

// maxEvictionIterations bounds eviction loops against pathological input.
const maxEvictionIterations = 100

// AppendOptions carries optional fields for an append.
type AppendOptions struct {
	ExternalID        string
	ReplyToExternalID string
	Metadata          *protocol.MessageMetadata
}

// Stats summarizes a user's conversation window.
type Stats struct {
	UserMsgs      int `json:"user_msgs"`
	AssistantMsgs int `json:"assistant_msgs"`
	SystemMsgs    int `json:"system_msgs"`
	TotalTokens   int `json:"total_tokens"`
	MsgLimit      int `json:"msg_limit"`
	TokenLimit    int `json:"token_limit"`
}

// ConversationMemory holds one bounded message window per user. All
// operations are safe for concurrent use; each user's window is guarded
// by its own lock.
type ConversationMemory struct {
	cfg       config.MemoryConfig
	estimator *TokenEstimator
	nowFn     func() time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	windows map[string]*window
}

type window struct {
	mu           sync.Mutex
	messages     []*protocol.Message
	lastActivity time.Time
}

// Option customizes a ConversationMemory.
type Option func(*ConversationMemory)

// WithClock overrides the time source, for tests.
func WithClock(nowFn func() time.Time) Option {
	return func(m *ConversationMemory) {
		m.nowFn = nowFn
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *ConversationMemory) {
		m.logger = logger
	}
}

// New creates a ConversationMemory with the given limits.
func New(cfg config.MemoryConfig, opts ...Option) *ConversationMemory {
	m := &ConversationMemory{
		cfg:       cfg,
		estimator: NewTokenEstimator(cfg.TokenizerModel, cfg.CharsPerToken),
		nowFn:     time.Now,
		logger:    slog.Default(),
		windows:   make(map[string]*window),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append adds a message to the user's window, enforcing the window
// invariants. Idempotent by ExternalID when supplied. Never fails the
// caller; internal problems are logged and the message dropped.
func (m *ConversationMemory) Append(userID string, role protocol.Role, content string, opts AppendOptions) {
	w := m.window(userID)
	now := m.nowFn()

	w.mu.Lock()
	defer w.mu.Unlock()

	if opts.ExternalID != "" {
		for _, msg := range w.messages {
			if msg.ExternalID == opts.ExternalID {
				return
			}
		}
	}

	msg := &protocol.Message{
		Role:              role,
		Content:           content,
		Timestamp:         now,
		ExternalID:        opts.ExternalID,
		ReplyToExternalID: opts.ReplyToExternalID,
		EstimatedTokens:   m.estimator.Estimate(content),
		Metadata:          opts.Metadata,
	}

	if msg.EstimatedTokens > m.cfg.MaxTotalTokens {
		m.logger.Warn("Message exceeds the token budget on its own, dropping",
			"user_id", userID, "tokens", msg.EstimatedTokens)
		return
	}

	m.evictFor(w, msg)
	w.messages = append(w.messages, msg)
	w.lastActivity = now
}

// evictFor makes room for an incoming message. Runs the three-phase
// policy: context-message cap, token budget, system-message cap.
func (m *ConversationMemory) evictFor(w *window, incoming *protocol.Message) {
	isContext := incoming.Role != protocol.RoleSystem

	for i := 0; isContext && m.countContext(w) >= m.cfg.MaxContextMessages; i++ {
		if i >= maxEvictionIterations {
			m.logger.Warn("Context eviction hit the iteration guard")
			break
		}
		if !m.removeOldest(w, func(msg *protocol.Message) bool {
			return msg.Role != protocol.RoleSystem
		}) {
			break
		}
	}

	budget := m.cfg.MaxTotalTokens - incoming.EstimatedTokens
	for i := 0; m.sumTokens(w) > budget; i++ {
		if i >= maxEvictionIterations {
			m.logger.Warn("Token eviction hit the iteration guard")
			break
		}
		if !m.removeLeastImportant(w) {
			break
		}
	}

	isSystem := incoming.Role == protocol.RoleSystem
	for i := 0; isSystem && m.countSystem(w) >= m.cfg.MaxSystemMessages; i++ {
		if i >= maxEvictionIterations {
			break
		}
		if !m.removeOldest(w, func(msg *protocol.Message) bool {
			return msg.Role == protocol.RoleSystem
		}) {
			break
		}
	}
}

// Recent returns a copy of the last n messages in chronological order.
func (m *ConversationMemory) Recent(userID string, n int) []*protocol.Message {
	w := m.window(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= 0 || n > len(w.messages) {
		n = len(w.messages)
	}
	out := make([]*protocol.Message, n)
	copy(out, w.messages[len(w.messages)-n:])
	return out
}

// FindByExternalID returns the stored message with the given transport
// identifier, or nil.
func (m *ConversationMemory) FindByExternalID(userID, externalID string) *protocol.Message {
	if externalID == "" {
		return nil
	}
	w := m.window(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := len(w.messages) - 1; i >= 0; i-- {
		if w.messages[i].ExternalID == externalID {
			return w.messages[i]
		}
	}
	return nil
}

// StoreDisambiguation appends a system marker carrying the candidates
// shown to the user, so a short numeric reply can be resolved later.
func (m *ConversationMemory) StoreDisambiguation(userID string, candidates []protocol.CandidateRef, entityType string) {
	m.Append(userID, protocol.RoleSystem, "disambiguation options presented", AppendOptions{
		Metadata: &protocol.MessageMetadata{
			Disambiguation: &protocol.DisambiguationContext{
				Candidates: candidates,
				EntityType: entityType,
				ExpiresAt:  m.nowFn().Add(m.cfg.DisambiguationTTL),
			},
		},
	})
}

// LastDisambiguation returns the most recent unexpired disambiguation
// context, or nil.
func (m *ConversationMemory) LastDisambiguation(userID string) *protocol.DisambiguationContext {
	w := m.window(userID)
	now := m.nowFn()

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := len(w.messages) - 1; i >= 0; i-- {
		msg := w.messages[i]
		if msg.Role != protocol.RoleSystem || msg.Metadata == nil || msg.Metadata.Disambiguation == nil {
			continue
		}
		if msg.Metadata.Disambiguation.Expired(now) {
			return nil
		}
		return msg.Metadata.Disambiguation
	}
	return nil
}

// ClearDisambiguation strips the disambiguation metadata from the most
// recent system marker that carries one.
func (m *ConversationMemory) ClearDisambiguation(userID string) {
	w := m.window(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := len(w.messages) - 1; i >= 0; i-- {
		msg := w.messages[i]
		if msg.Role == protocol.RoleSystem && msg.Metadata != nil && msg.Metadata.Disambiguation != nil {
			msg.Metadata.Disambiguation = nil
			return
		}
	}
}

// GetStats returns the window counters for a user.
func (m *ConversationMemory) GetStats(userID string) Stats {
	w := m.window(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	stats := Stats{
		MsgLimit:   m.cfg.MaxContextMessages,
		TokenLimit: m.cfg.MaxTotalTokens,
	}
	for _, msg := range w.messages {
		switch msg.Role {
		case protocol.RoleUser:
			stats.UserMsgs++
		case protocol.RoleAssistant:
			stats.AssistantMsgs++
		case protocol.RoleSystem:
			stats.SystemMsgs++
		}
		stats.TotalTokens += msg.EstimatedTokens
	}
	return stats
}

// Clear drops the entire window for a user.
func (m *ConversationMemory) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, userID)
}

// CleanupIdle drops windows whose last activity is older than the
// conversation TTL. Returns the number of windows dropped.
func (m *ConversationMemory) CleanupIdle() int {
	now := m.nowFn()
	cutoff := now.Add(-m.cfg.ConversationTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for userID, w := range m.windows {
		w.mu.Lock()
		idle := w.lastActivity.Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(m.windows, userID)
			dropped++
		}
	}
	if dropped > 0 {
		m.logger.Info("Cleaned up idle conversation windows", "count", dropped)
	}
	return dropped
}

func (m *ConversationMemory) window(userID string) *window {
	m.mu.RLock()
	w, ok := m.windows[userID]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.windows[userID]; ok {
		return w
	}
	w = &window{lastActivity: m.nowFn()}
	m.windows[userID] = w
	return w
}

func (m *ConversationMemory) countContext(w *window) int {
	n := 0
	for _, msg := range w.messages {
		if msg.Role != protocol.RoleSystem {
			n++
		}
	}
	return n
}

func (m *ConversationMemory) countSystem(w *window) int {
	n := 0
	for _, msg := range w.messages {
		if msg.Role == protocol.RoleSystem {
			n++
		}
	}
	return n
}

func (m *ConversationMemory) sumTokens(w *window) int {
	total := 0
	for _, msg := range w.messages {
		total += msg.EstimatedTokens
	}
	return total
}

func (m *ConversationMemory) removeOldest(w *window, match func(*protocol.Message) bool) bool {
	for i, msg := range w.messages {
		if match(msg) {
			w.messages = append(w.messages[:i], w.messages[i+1:]...)
			return true
		}
	}
	return false
}

// removeLeastImportant drops the message with the lowest importance
// score. Importance is recency-weighted, role-weighted (user and
// assistant above system), and metadata-weighted (disambiguation above
// recent-entities above none).
func (m *ConversationMemory) removeLeastImportant(w *window) bool {
	if len(w.messages) == 0 {
		return false
	}

	lowest := -1
	lowestScore := 0.0
	for i, msg := range w.messages {
		score := m.importance(w, i, msg)
		if lowest == -1 || score < lowestScore {
			lowest = i
			lowestScore = score
		}
	}
	w.messages = append(w.messages[:lowest], w.messages[lowest+1:]...)
	return true
}

func (m *ConversationMemory) importance(w *window, index int, msg *protocol.Message) float64 {
	recency := float64(index+1) / float64(len(w.messages))

	role := 1.0
	if msg.Role == protocol.RoleSystem {
		role = 0.5
	}

	metadata := 0.0
	if msg.Metadata != nil {
		switch {
		case msg.Metadata.Disambiguation != nil:
			metadata = 1.0
		case msg.Metadata.RecentEntities != nil:
			metadata = 0.5
		}
	}

	return recency + role + metadata
}
