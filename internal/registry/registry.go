// Package registry holds the in-memory set of active downloads. It is
// mutated from two sides, the command dispatcher (insert) and the monitor
// (remove), so every operation takes the registry lock. Iteration always
// goes through Snapshot; callers never see the live map.
package registry

import (
	"errors"
	"sync"

	"torrent-bot/internal/domain"
)

var (
	// ErrDuplicateTask is returned when inserting an id that is already tracked.
	ErrDuplicateTask = errors.New("task already tracked")
	// ErrTaskNotFound is returned when removing or looking up an unknown id.
	ErrTaskNotFound = errors.New("task not found")
)

// Entry pairs a task with its id for snapshot iteration.
type Entry struct {
	ID   string
	Task domain.Task
}

// Registry is an insertion-ordered map of active downloads keyed by
// torrent id.
type Registry struct {
	mu    sync.Mutex
	order []string
	tasks map[string]domain.Task
}

func New() *Registry {
	return &Registry{tasks: make(map[string]domain.Task)}
}

// Insert adds a task under id. Fails with ErrDuplicateTask if the id is
// already present.
func (r *Registry) Insert(id string, task domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return ErrDuplicateTask
	}
	r.tasks[id] = task
	r.order = append(r.order, id)
	return nil
}

// Remove deletes and returns the task under id. Fails with ErrTaskNotFound
// if absent, so a second removal of the same id always fails.
func (r *Registry) Remove(id string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	delete(r.tasks, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return task, nil
}

// Get returns the task under id without removing it.
func (r *Registry) Get(id string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	return task, nil
}

// SetName updates the display name of a tracked task, used once the engine
// resolves metadata. Unknown ids are ignored; the task may already have
// been promoted to history.
func (r *Registry) SetName(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[id]; ok {
		task.Name = name
		r.tasks[id] = task
	}
}

// Snapshot returns a point-in-time copy of all entries in insertion order.
// Safe to iterate while the registry is concurrently mutated.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, Entry{ID: id, Task: r.tasks[id]})
	}
	return entries
}

// Len reports the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
