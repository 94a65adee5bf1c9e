// Package cache memoizes stage outputs by content-derived keys.
//
// The cache itself is a dumb key/value store: key computation lives with
// the caller (the orchestrator knows the stage's identity, effective
// configuration, and interesting inputs). Entries are never implicitly
// invalidated within a run; discarding them across runs is the caller's
// decision.
package cache

import (
	"sync"
	"time"
)

// Entry is one memoized stage output.
type Entry struct {
	Stage     string    `json:"stage"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache stores stage outputs by key.
type Cache interface {
	// Lookup returns the entry stored under key, if any.
	Lookup(key string) (Entry, bool)

	// Store saves an entry under key and records it as the stage's most
	// recent successful output.
	Store(key string, e Entry) error

	// LatestFor returns the most recently stored entry for a stage,
	// regardless of key. Serves the use-cache fallback mode.
	LatestFor(stage string) (Entry, bool)
}

// Memory is an in-memory, run-scoped Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	latest  map[string]string // stage -> key of most recent entry
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		latest:  make(map[string]string),
	}
}

func (m *Memory) Lookup(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *Memory) Store(key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.entries[key] = e
	m.latest[e.Stage] = key
	return nil
}

func (m *Memory) LatestFor(stage string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.latest[stage]
	if !ok {
		return Entry{}, false
	}
	e, ok := m.entries[key]
	return e, ok
}
