// Package statestore implements the Runtime State Store: the
// only path that mutates a Subject's RuntimeState, enforcing the state
// machine's transition table with a per-Subject lock.
package statestore

import (
	"sync"

	"github.com/forgefleet/orchestrator/internal/domain/runtime"
)

// Store holds one RuntimeState per registered Subject name.
type Store struct {
	mu      sync.RWMutex // guards the map itself, never held across a per-entry lock's critical section
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state runtime.RuntimeState
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Register adds a fresh, Stopped RuntimeState for name if one does not
// already exist. Idempotent.
func (s *Store) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return
	}
	s.entries[name] = &entry{state: *runtime.New()}
}

// Unregister removes name's RuntimeState entirely. Callers must have
// already driven the state to Stopped and cancelled any supervision task.
func (s *Store) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Rename moves an entry from oldName to newName, preserving its state.
func (s *Store) Rename(oldName, newName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[oldName]
	if !ok {
		return
	}
	delete(s.entries, oldName)
	s.entries[newName] = e
}

func (s *Store) get(name string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// TryTransition attempts to move name's state to target. It is atomic with
// respect to the Subject: on failure (unknown subject or illegal edge) it
// returns false without any mutation.
func (s *Store) TryTransition(name string, target runtime.State) bool {
	e, ok := s.get(name)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !runtime.CanTransition(e.state.State, target) {
		return false
	}
	e.state.State = target
	return true
}

// Update applies mutator to name's RuntimeState under its per-Subject lock.
// Returns false if name is not registered.
func (s *Store) Update(name string, mutator func(*runtime.RuntimeState)) bool {
	e, ok := s.get(name)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	mutator(&e.state)
	return true
}

// Snapshot returns a consistent copy of name's RuntimeState.
func (s *Store) Snapshot(name string) (runtime.RuntimeState, bool) {
	e, ok := s.get(name)
	if !ok {
		return runtime.RuntimeState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), true
}

// SnapshotAll returns a consistent copy of every registered RuntimeState,
// keyed by Subject name.
func (s *Store) SnapshotAll() map[string]runtime.RuntimeState {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	entries := make([]*entry, 0, len(s.entries))
	for name, e := range s.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make(map[string]runtime.RuntimeState, len(names))
	for i, name := range names {
		e := entries[i]
		e.mu.Lock()
		out[name] = e.state.Clone()
		e.mu.Unlock()
	}
	return out
}

// AssignedKeyNames returns the set of credential names currently assigned
// to any RuntimeState, restricted to those whose Subject draws from pool
// poolName. subjectPool resolves a Subject name to its configured pool
// name (empty if none); callers pass in the persisted view since Store
// itself holds no Subject data.
func (s *Store) AssignedKeyNames(poolName string, subjectPool func(name string) string) map[string]bool {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	entries := make([]*entry, 0, len(s.entries))
	for name, e := range s.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	inUse := make(map[string]bool)
	for i, name := range names {
		if subjectPool(name) != poolName {
			continue
		}
		e := entries[i]
		e.mu.Lock()
		key := e.state.AssignedKeyName
		e.mu.Unlock()
		if key != "" {
			inUse[key] = true
		}
	}
	return inUse
}
