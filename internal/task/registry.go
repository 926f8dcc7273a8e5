package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when a task id is not present in the registry.
var ErrNotFound = errors.New("task not found")

// Store is the durable mirror of the registry. Implemented by
// store.Store; kept minimal so the registry does not depend on the
// persistence layer.
type Store interface {
	Save(t Task) error
	Delete(id string) error
}

// Registry is the in-memory authoritative id -> Task map for the
// running process. Every mutation is mirrored to the store before it
// is considered committed; reads never touch the store.
//
// A failed store write keeps the in-memory mutation and surfaces the
// error, leaving a durability gap that recovery on restart may not
// heal.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]Task
	store Store
}

// NewRegistry creates an empty registry mirrored to store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		tasks: make(map[string]Task),
		store: store,
	}
}

// Create inserts a new task and persists it. ID, status, and creation
// time are filled in when empty.
func (r *Registry) Create(t *Task) error {
	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Payload.Kind = t.Payload.Kind.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[t.ID] = *t
	if err := r.store.Save(*t); err != nil {
		slog.Error("registry: persist create", "id", t.ID, "error", err)
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns a copy of the task with the given id.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	return t, ok
}

// Update overwrites an existing task and persists it. Updating an id
// that is no longer present returns ErrNotFound so a late write (for
// example a re-send finishing after completion) cannot resurrect a
// removed task.
func (r *Registry) Update(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	r.tasks[t.ID] = t
	if err := r.store.Save(t); err != nil {
		slog.Error("registry: persist update", "id", t.ID, "error", err)
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// Remove deletes a task from the registry and the store.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	if err := r.store.Delete(id); err != nil {
		slog.Error("registry: persist remove", "id", id, "error", err)
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// Active returns a snapshot of all active tasks. Safe to iterate while
// the registry mutates.
func (r *Registry) Active() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if t.Status == StatusActive {
			out = append(out, t)
		}
	}
	return out
}

// All returns a snapshot of every task regardless of status.
func (r *Registry) All() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// Load bulk-inserts tasks without store writes. Used by the recovery
// reconciler, which loads from the store itself.
func (r *Registry) Load(ts []Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range ts {
		r.tasks[t.ID] = t
	}
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
