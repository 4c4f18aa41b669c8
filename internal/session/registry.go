package session

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Entry is one signed-in terminal.
type Entry struct {
	ID       int
	UserID   string
	Username string
	Remote   string
	Since    time.Time
}

// Registry tracks live sessions and enforces the max-sessions limit.
type Registry struct {
	mu          sync.RWMutex
	entries     map[int]*Entry
	reserved    map[int]bool
	maxSessions int
}

// NewRegistry creates a registry that admits at most maxSessions.
// Zero or less means unlimited.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		entries:     make(map[int]*Entry),
		reserved:    make(map[int]bool),
		maxSessions: maxSessions,
	}
}

// Acquire reserves the lowest free slot if capacity allows.
// Returns the slot ID and true, or 0 and false if full.
func (r *Registry) Acquire() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.reserved) >= r.maxSessions {
		return 0, false
	}
	id := 1
	for r.reserved[id] {
		id++
	}
	r.reserved[id] = true
	return id, true
}

// Add registers a session in a slot returned by Acquire.
func (r *Registry) Add(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reserved[e.ID] {
		return fmt.Errorf("session slot %d not acquired", e.ID)
	}
	if e.Since.IsZero() {
		e.Since = time.Now()
	}
	r.entries[e.ID] = e
	return nil
}

// Remove frees a slot.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	delete(r.reserved, id)
}

// Get returns a session by slot, or nil if not found.
func (r *Registry) Get(id int) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Count returns the number of occupied slots.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reserved)
}

// List returns a snapshot of all sessions ordered by slot.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
