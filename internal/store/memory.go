package store

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryRegistry is a map-backed Registry. It is used by tests and by
// embedders that do not want cached assets to survive a restart.
type MemoryRegistry struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]*memoryStore)}
}

// Open returns the store named name, creating it if absent.
func (r *MemoryRegistry) Open(name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores[name]; ok {
		return st, nil
	}
	st := &memoryStore{name: name, entries: make(map[Key]*Entry)}
	r.stores[name] = st
	return st, nil
}

// Names returns the names of all existing stores, sorted.
func (r *MemoryRegistry) Names() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes the store named name.
func (r *MemoryRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores[name]; ok {
		st.close()
		delete(r.stores, name)
	}
	return nil
}

// Rename moves the store named oldName to newName, replacing any
// existing store of that name.
func (r *MemoryRegistry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stores[oldName]
	if !ok {
		return fmt.Errorf("store %q does not exist", oldName)
	}
	if old, ok := r.stores[newName]; ok {
		old.close()
	}
	delete(r.stores, oldName)
	st.rename(newName)
	r.stores[newName] = st
	return nil
}

// memoryStore holds one generation of entries in a map.
type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[Key]*Entry
	closed  bool
}

func (s *memoryStore) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *memoryStore) rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *memoryStore) Get(key Key) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent modification of stored state.
	return entry.Clone(), nil
}

func (s *memoryStore) Put(key Key, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.entries[key] = entry.Clone()
	return nil
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *memoryStore) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

func (s *memoryStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
}
