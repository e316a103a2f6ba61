// Package keypool implements the Key Pool: round-robin
// allocation of scarce, named Credentials out of a persisted Pool.
package keypool

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/storage"
)

// CursorStore advances a named pool's round-robin cursor and returns the
// new value. Implementations must make Advance atomic with respect to
// concurrent callers sharing the same poolName; size is the pool's current
// Credential count, used to wrap the cursor.
//
// The default, LocalCursorStore, serializes through the persisted Pool
// itself and is correct for a single orchestrator process. RedisCursorStore
// backs the same contract with a shared counter so that more than one
// orchestrator process drawing from the same pool rotates consistently.
type CursorStore interface {
	Advance(ctx context.Context, poolName string, size int) (int, error)
}

// LocalCursorStore advances the cursor persisted on the Pool record itself
// via the KeyPoolStore, guarded by an in-process lock per pool name.
type LocalCursorStore struct {
	store storage.KeyPoolStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalCursorStore returns a CursorStore backed by store.
func NewLocalCursorStore(store storage.KeyPoolStore) *LocalCursorStore {
	return &LocalCursorStore{store: store, locks: make(map[string]*sync.Mutex)}
}

func (l *LocalCursorStore) lockFor(poolName string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[poolName]
	if !ok {
		m = &sync.Mutex{}
		l.locks[poolName] = m
	}
	return m
}

// Advance reads the pool, advances its Cursor field modulo size, persists
// it, and returns the new value.
func (l *LocalCursorStore) Advance(ctx context.Context, poolName string, size int) (int, error) {
	if size <= 0 {
		return 0, nil
	}
	m := l.lockFor(poolName)
	m.Lock()
	defer m.Unlock()

	p, err := l.store.GetPool(ctx, poolName)
	if err != nil {
		return 0, err
	}
	next := (p.Cursor + 1) % size
	p.Cursor = next
	if _, err := l.store.UpdatePool(ctx, p); err != nil {
		return 0, err
	}
	return next, nil
}

// Service is the Key Pool. The zero value is not usable; use New.
type Service struct {
	store  storage.KeyPoolStore
	cursor CursorStore
}

// New creates a Key Pool service backed by store, advancing cursors through
// cursor. Pass NewLocalCursorStore(store) for single-process deployments.
func New(store storage.KeyPoolStore, cursor CursorStore) *Service {
	return &Service{store: store, cursor: cursor}
}

// Acquire returns the next Credential in poolName's round-robin order whose
// name is not in inUseNames and whose Held flag is false, advancing the
// pool's cursor. ok is false if the pool is missing or no Credential
// qualifies; the caller decides whether that is fatal.
func (s *Service) Acquire(ctx context.Context, poolName string, inUseNames map[string]bool) (cred keypool.Credential, ok bool, err error) {
	p, err := s.store.GetPool(ctx, poolName)
	if err != nil {
		if err == storage.ErrNotFound {
			return keypool.Credential{}, false, nil
		}
		return keypool.Credential{}, false, err
	}
	n := len(p.Credentials)
	if n == 0 {
		return keypool.Credential{}, false, nil
	}

	start, err := s.cursor.Advance(ctx, poolName, n)
	if err != nil {
		return keypool.Credential{}, false, err
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		c := p.Credentials[idx]
		if c.Held || inUseNames[c.Name] {
			continue
		}
		return c, true, nil
	}
	return keypool.Credential{}, false, nil
}

// Release is a documentation-only no-op: releasing a Credential
// is simply clearing assigned-key-name on the RuntimeState that held it.
func (s *Service) Release(credentialName string) {}

// Hold sets the administrative held flag on keyName within poolName.
func (s *Service) Hold(ctx context.Context, poolName, keyName string) error {
	return s.setHeld(ctx, poolName, keyName, true)
}

// Unhold clears the administrative held flag on keyName within poolName.
func (s *Service) Unhold(ctx context.Context, poolName, keyName string) error {
	return s.setHeld(ctx, poolName, keyName, false)
}

func (s *Service) setHeld(ctx context.Context, poolName, keyName string, held bool) error {
	p, err := s.store.GetPool(ctx, poolName)
	if err != nil {
		return err
	}
	idx := p.IndexOf(keyName)
	if idx < 0 {
		return fmt.Errorf("keypool: credential %q not found in pool %q: %w", keyName, poolName, storage.ErrNotFound)
	}
	p.Credentials[idx].Held = held
	_, err = s.store.UpdatePool(ctx, p)
	return err
}
