package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// DomainNote is the long-term memory (notes) entity domain.
const DomainNote = "note"

// NotesStore persists user notes in a chromem-go vector collection so
// "what did I tell you about X" queries match semantically, not just
// by keyword. A side index keeps plain listing cheap.
type NotesStore struct {
	db         *chromem.DB
	collection *chromem.Collection

	mu    sync.RWMutex
	notes map[string][]Entity
}

// NewNotesStore opens the vector store. path empty keeps everything in
// memory. embed nil uses the chromem default embedding function (OpenAI,
// keyed by OPENAI_API_KEY).
func NewNotesStore(path, collectionName string, embed chromem.EmbeddingFunc) (*NotesStore, error) {
	var db *chromem.DB
	var err error
	if path != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open notes store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open notes collection: %w", err)
	}

	return &NotesStore{
		db:         db,
		collection: collection,
		notes:      make(map[string][]Entity),
	}, nil
}

func (s *NotesStore) Domain() string {
	return DomainNote
}

// List returns the user's notes. A non-empty Query runs a semantic
// search against the vector collection; otherwise all notes are
// returned newest first.
func (s *NotesStore) List(ctx context.Context, userID string, filter ListFilter) ([]Entity, error) {
	if filter.Query == "" {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]Entity, len(s.notes[userID]))
		copy(out, s.notes[userID])
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
		return out, nil
	}

	topK := filter.Limit
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	if n := len(s.notes[userID]); topK > n {
		topK = n
	}
	s.mu.RUnlock()
	if topK == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, filter.Query, topK, map[string]string{"user_id": userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("notes query failed: %w", err)
	}

	out := make([]Entity, 0, len(results))
	for _, r := range results {
		out = append(out, Entity{
			ID:      r.ID,
			Summary: r.Content,
			Raw:     map[string]any{"similarity": r.Similarity},
		})
	}
	return out, nil
}

// Mutate applies store, query and delete operations.
func (s *NotesStore) Mutate(ctx context.Context, userID, op string, args map[string]any) (map[string]any, error) {
	switch op {
	case OpStore, OpCreate:
		text, _ := args["text"].(string)
		if text == "" {
			return nil, fmt.Errorf("note text is required")
		}
		id := uuid.NewString()

		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:       id,
			Content:  text,
			Metadata: map[string]string{"user_id": userID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store note: %w", err)
		}

		now := time.Now()
		s.mu.Lock()
		s.notes[userID] = append([]Entity{{ID: id, Summary: text, Start: &now}}, s.notes[userID]...)
		s.mu.Unlock()

		return map[string]any{"noteId": id}, nil

	case OpQuery:
		query, _ := args["query"].(string)
		notes, err := s.List(ctx, userID, ListFilter{Query: query, Limit: 5})
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(notes))
		for i, n := range notes {
			texts[i] = n.Summary
		}
		return map[string]any{"notes": texts}, nil

	case OpDelete:
		ids := stringSliceArg(args["noteIds"])
		if id, _ := args["noteId"].(string); id != "" {
			ids = append(ids, id)
		}
		for _, id := range ids {
			if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
				return nil, fmt.Errorf("failed to delete note %s: %w", id, err)
			}
		}

		idSet := make(map[string]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
		s.mu.Lock()
		kept := s.notes[userID][:0]
		for _, n := range s.notes[userID] {
			if !idSet[n.ID] {
				kept = append(kept, n)
			}
		}
		s.notes[userID] = kept
		s.mu.Unlock()

		return map[string]any{"deleted": len(ids)}, nil

	default:
		return nil, fmt.Errorf("notes store does not support operation %q", op)
	}
}

var _ Executor = (*NotesStore)(nil)
