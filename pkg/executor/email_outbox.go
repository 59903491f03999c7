package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DomainEmail is the email entity domain.
const DomainEmail = "email"

// OutboxEmail is one recorded outbound email.
type OutboxEmail struct {
	ID      string
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

// OutboxEmailer queues outbound email in memory. A real mail
// integration replaces it in the registry; the pipeline contract is the
// same either way.
type OutboxEmailer struct {
	mu     sync.RWMutex
	outbox map[string][]OutboxEmail
}

// NewOutboxEmailer creates an empty outbox.
func NewOutboxEmailer() *OutboxEmailer {
	return &OutboxEmailer{outbox: make(map[string][]OutboxEmail)}
}

func (e *OutboxEmailer) Domain() string {
	return DomainEmail
}

// List returns the user's sent emails as entities, newest first.
func (e *OutboxEmailer) List(ctx context.Context, userID string, filter ListFilter) ([]Entity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	emails := e.outbox[userID]
	out := make([]Entity, 0, len(emails))
	for i := len(emails) - 1; i >= 0; i-- {
		msg := emails[i]
		sentAt := msg.SentAt
		out = append(out, Entity{
			ID:      msg.ID,
			Summary: msg.Subject,
			Start:   &sentAt,
			Raw:     map[string]any{"to": msg.To},
		})
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Mutate supports the send operation.
func (e *OutboxEmailer) Mutate(ctx context.Context, userID, op string, args map[string]any) (map[string]any, error) {
	if op != OpSend {
		return nil, fmt.Errorf("email does not support operation %q", op)
	}

	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" {
		return nil, fmt.Errorf("email recipient is required")
	}

	msg := OutboxEmail{
		ID:      uuid.NewString(),
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now(),
	}

	e.mu.Lock()
	e.outbox[userID] = append(e.outbox[userID], msg)
	e.mu.Unlock()

	return map[string]any{"emailId": msg.ID}, nil
}

// Sent returns everything queued for a user, for tests and debugging.
func (e *OutboxEmailer) Sent(userID string) []OutboxEmail {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]OutboxEmail, len(e.outbox[userID]))
	copy(out, e.outbox[userID])
	return out
}

var _ Executor = (*OutboxEmailer)(nil)
