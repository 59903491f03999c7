package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DomainTask is the task/reminder entity domain.
const DomainTask = "task"

// MemoryTaskStore is an in-process task and reminder backend.
type MemoryTaskStore struct {
	// CompleteDeletes keeps the behavior where completing a reminder
	// removes it instead of marking it done.
	CompleteDeletes bool

	mu    sync.RWMutex
	tasks map[string][]Entity
}

// NewMemoryTaskStore creates an empty in-process task store.
func NewMemoryTaskStore(completeDeletes bool) *MemoryTaskStore {
	return &MemoryTaskStore{
		CompleteDeletes: completeDeletes,
		tasks:           make(map[string][]Entity),
	}
}

func (s *MemoryTaskStore) Domain() string {
	return DomainTask
}

// Seed inserts tasks directly, bypassing Mutate.
func (s *MemoryTaskStore) Seed(userID string, tasks ...Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[userID] = append(s.tasks[userID], tasks...)
}

// List returns open tasks, due-date filtered and sorted.
func (s *MemoryTaskStore) List(ctx context.Context, userID string, filter ListFilter) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	for _, task := range s.tasks[userID] {
		if done, _ := task.Raw["done"].(bool); done {
			continue
		}
		if filter.TimeMin != nil && task.Start != nil && task.Start.Before(*filter.TimeMin) {
			continue
		}
		if filter.TimeMax != nil && task.Start != nil && task.Start.After(*filter.TimeMax) {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		switch {
		case out[i].Start == nil:
			return false
		case out[j].Start == nil:
			return true
		default:
			return out[i].Start.Before(*out[j].Start)
		}
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Mutate applies create, createMultiple, update, complete, delete and
// deleteAll operations.
func (s *MemoryTaskStore) Mutate(ctx context.Context, userID, op string, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case OpCreate:
		task := taskFromArgs(args)
		s.tasks[userID] = append(s.tasks[userID], task)
		return map[string]any{"taskId": task.ID}, nil

	case OpCreateMultiple:
		items, _ := args["tasks"].([]any)
		var ids []string
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			task := taskFromArgs(m)
			s.tasks[userID] = append(s.tasks[userID], task)
			ids = append(ids, task.ID)
		}
		return map[string]any{"taskIds": ids}, nil

	case OpUpdate:
		id, _ := args["taskId"].(string)
		for i := range s.tasks[userID] {
			task := &s.tasks[userID][i]
			if task.ID != id {
				continue
			}
			if text, ok := args["text"].(string); ok && text != "" {
				task.Summary = text
			}
			if due, ok := parseTimeArg(args["dueDate"]); ok {
				task.Start = &due
			}
			return map[string]any{"taskId": task.ID}, nil
		}
		return nil, fmt.Errorf("task %q not found", id)

	case OpComplete:
		if s.CompleteDeletes {
			return s.deleteLocked(userID, args)
		}
		id, _ := args["taskId"].(string)
		for i := range s.tasks[userID] {
			task := &s.tasks[userID][i]
			if task.ID != id {
				continue
			}
			if task.Raw == nil {
				task.Raw = map[string]any{}
			}
			task.Raw["done"] = true
			return map[string]any{"taskId": task.ID, "done": true}, nil
		}
		return nil, fmt.Errorf("task %q not found", id)

	case OpDelete:
		return s.deleteLocked(userID, args)

	case OpDeleteAll:
		deleted := len(s.tasks[userID])
		s.tasks[userID] = nil
		return map[string]any{"deleted": deleted}, nil

	default:
		return nil, fmt.Errorf("task store does not support operation %q", op)
	}
}

func (s *MemoryTaskStore) deleteLocked(userID string, args map[string]any) (map[string]any, error) {
	ids := stringSliceArg(args["taskIds"])
	if id, _ := args["taskId"].(string); id != "" {
		ids = append(ids, id)
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	kept := s.tasks[userID][:0]
	deleted := 0
	for _, task := range s.tasks[userID] {
		if idSet[task.ID] {
			deleted++
			continue
		}
		kept = append(kept, task)
	}
	s.tasks[userID] = kept
	if deleted == 0 {
		return nil, fmt.Errorf("no matching tasks found")
	}
	return map[string]any{"deleted": deleted}, nil
}

func taskFromArgs(args map[string]any) Entity {
	task := Entity{ID: uuid.NewString(), Raw: map[string]any{}}
	if text, ok := args["text"].(string); ok {
		task.Summary = text
	}
	if due, ok := parseTimeArg(args["dueDate"]); ok {
		task.Start = &due
	}
	if reminder, ok := args["reminder"].(string); ok {
		task.Raw["reminder"] = reminder
	}
	if recurrence, ok := args["recurrence"].(map[string]any); ok {
		task.Raw["recurrence"] = recurrence
		task.IsRecurring = true
	}
	return task
}

// Due reports tasks whose due time has arrived.
func (s *MemoryTaskStore) Due(userID string, now time.Time) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	for _, task := range s.tasks[userID] {
		if done, _ := task.Raw["done"].(bool); done {
			continue
		}
		if task.Start != nil && !task.Start.After(now) {
			out = append(out, task)
		}
	}
	return out
}

var _ Executor = (*MemoryTaskStore)(nil)
