// Package memory is a thread-safe in-memory PersistentStore implementation.
// It is intended for tests and single-process prototyping and deliberately
// keeps the implementation simple.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/schedule"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/internal/storage"
)

// Store is the in-memory storage.Store implementation.
type Store struct {
	mu sync.RWMutex

	order     []string // subject names, display order
	subjects  map[string]subject.Subject
	pools     map[string]keypool.Pool
	schedules map[string]schedule.Schedule
	settings  map[string]string
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		subjects:  make(map[string]subject.Subject),
		pools:     make(map[string]keypool.Pool),
		schedules: make(map[string]schedule.Schedule),
		settings:  make(map[string]string),
	}
}

// --- SubjectStore ------------------------------------------------------

func (s *Store) ListSubjects(_ context.Context) ([]subject.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subject.Subject, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.subjects[name].Clone())
	}
	return out, nil
}

func (s *Store) GetSubject(_ context.Context, name string) (subject.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[name]
	if !ok {
		return subject.Subject{}, storage.ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *Store) CreateSubject(_ context.Context, sub subject.Subject) (subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subjects[sub.Name]; exists {
		return subject.Subject{}, storage.ErrAlreadyExists
	}
	s.subjects[sub.Name] = sub.Clone()
	s.order = append(s.order, sub.Name)
	return sub.Clone(), nil
}

func (s *Store) UpdateSubject(_ context.Context, sub subject.Subject) (subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subjects[sub.Name]; !exists {
		return subject.Subject{}, storage.ErrNotFound
	}
	s.subjects[sub.Name] = sub.Clone()
	return sub.Clone(), nil
}

func (s *Store) DeleteSubject(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subjects[name]; !exists {
		return storage.ErrNotFound
	}
	delete(s.subjects, name)
	s.order = removeName(s.order, name)
	return nil
}

func (s *Store) RenameSubject(_ context.Context, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, exists := s.subjects[oldName]
	if !exists {
		return storage.ErrNotFound
	}
	if _, taken := s.subjects[newName]; taken {
		return storage.ErrAlreadyExists
	}
	sub.Name = newName
	delete(s.subjects, oldName)
	s.subjects[newName] = sub
	for i, n := range s.order {
		if n == oldName {
			s.order[i] = newName
			break
		}
	}
	return nil
}

func (s *Store) MoveSubjectToIndex(_ context.Context, name string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subjects[name]; !exists {
		return storage.ErrNotFound
	}
	s.order = removeName(s.order, name)
	if index < 0 {
		index = 0
	}
	if index > len(s.order) {
		index = len(s.order)
	}
	s.order = append(s.order[:index], append([]string{name}, s.order[index:]...)...)
	return nil
}

func (s *Store) ReloadSubjects(context.Context) error { return nil }

func removeName(order []string, name string) []string {
	out := make([]string, 0, len(order))
	for _, n := range order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// --- KeyPoolStore --------------------------------------------------------

func (s *Store) ListPools(_ context.Context) ([]keypool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pools))
	for n := range s.pools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]keypool.Pool, 0, len(names))
	for _, n := range names {
		out = append(out, s.pools[n].Clone())
	}
	return out, nil
}

func (s *Store) GetPool(_ context.Context, name string) (keypool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[name]
	if !ok {
		return keypool.Pool{}, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) CreatePool(_ context.Context, p keypool.Pool) (keypool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[p.Name]; exists {
		return keypool.Pool{}, storage.ErrAlreadyExists
	}
	s.pools[p.Name] = p.Clone()
	return p.Clone(), nil
}

func (s *Store) UpdatePool(_ context.Context, p keypool.Pool) (keypool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[p.Name]; !exists {
		return keypool.Pool{}, storage.ErrNotFound
	}
	s.pools[p.Name] = p.Clone()
	return p.Clone(), nil
}

func (s *Store) DeletePool(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[name]; !exists {
		return storage.ErrNotFound
	}
	delete(s.pools, name)
	return nil
}

func (s *Store) ReloadPools(context.Context) error { return nil }

// --- ScheduleStore ---------------------------------------------------------

func (s *Store) ListSchedules(_ context.Context) ([]schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.schedules))
	for n := range s.schedules {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]schedule.Schedule, 0, len(names))
	for _, n := range names {
		out = append(out, s.schedules[n].Clone())
	}
	return out, nil
}

func (s *Store) GetSchedule(_ context.Context, name string) (schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[name]
	if !ok {
		return schedule.Schedule{}, storage.ErrNotFound
	}
	return sc.Clone(), nil
}

func (s *Store) CreateSchedule(_ context.Context, sc schedule.Schedule) (schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sc.Name]; exists {
		return schedule.Schedule{}, storage.ErrAlreadyExists
	}
	s.schedules[sc.Name] = sc.Clone()
	return sc.Clone(), nil
}

func (s *Store) UpdateSchedule(_ context.Context, sc schedule.Schedule) (schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sc.Name]; !exists {
		return schedule.Schedule{}, storage.ErrNotFound
	}
	s.schedules[sc.Name] = sc.Clone()
	return sc.Clone(), nil
}

func (s *Store) DeleteSchedule(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[name]; !exists {
		return storage.ErrNotFound
	}
	delete(s.schedules, name)
	return nil
}

func (s *Store) ReloadSchedules(context.Context) error { return nil }

// --- SettingsStore ---------------------------------------------------------

func (s *Store) GetSettings(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) PutSettings(_ context.Context, settings map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = make(map[string]string, len(settings))
	for k, v := range settings {
		s.settings[k] = v
	}
	return nil
}

func (s *Store) ReloadSettings(context.Context) error { return nil }
