// Package contextstore implements the shared context stages read from and
// write to: an ordered key/value space with an append-only history log.
//
// Reads never fail for absence; a missing key means "no information
// available yet" and is an expected steady state for stages run early in
// the pipeline. Writes update the current value and append a history entry;
// history is never pruned within a run.
package contextstore

import (
	"sync"
	"time"
)

// Entry is one history record: who wrote what, and when.
type Entry struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	Stage    string    `json:"stage"`
	Sequence int       `json:"sequence"`
	At       time.Time `json:"at"`
}

// Store is the shared context. All methods are safe for concurrent use;
// the internal mutex is the sole synchronization boundary, so a reader
// never observes a partially-written value.
type Store struct {
	mu       sync.RWMutex
	current  map[string]string
	keyOrder []string // keys in first-write order
	history  []Entry
	seq      int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		current: make(map[string]string),
	}
}

// Get returns the current value for key. The second return is false when
// the key has never been written; absence is not an error.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.current[key]
	return v, ok
}

// Set writes a value for key on behalf of stage. The previous value, if
// any, remains in history; the new value becomes current.
func (s *Store) Set(key, value, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.current[key]; !seen {
		s.keyOrder = append(s.keyOrder, key)
	}
	s.seq++
	s.current[key] = value
	s.history = append(s.history, Entry{
		Key:      key,
		Value:    value,
		Stage:    stage,
		Sequence: s.seq,
		At:       time.Now(),
	})
}

// Keys returns the currently populated keys in first-write order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.keyOrder))
	copy(out, s.keyOrder)
	return out
}

// HistoryOf returns every value ever written to key, oldest first.
func (s *Store) HistoryOf(key string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.history {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// History returns the full history log, oldest first.
func (s *Store) History() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns a consistent copy of the current values for the given
// keys. Absent keys are omitted. Used for cache-key construction, where a
// torn read across keys would poison the fingerprint.
func (s *Store) Snapshot(keys []string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.current[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of populated keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}
