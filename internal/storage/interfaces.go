// Package storage declares the persistence contract for each
// entity kind the core reads and writes through. Implementations are
// atomic per call; the core assumes operations on a given entity are
// serialized by the store.
package storage

import (
	"context"
	"errors"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/schedule"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
)

// ErrNotFound is returned when an entity looked up by name does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyExists is returned by Create when the name is already taken.
var ErrAlreadyExists = errors.New("storage: already exists")

// SubjectStore persists Subject records and their display order.
type SubjectStore interface {
	ListSubjects(ctx context.Context) ([]subject.Subject, error)
	GetSubject(ctx context.Context, name string) (subject.Subject, error)
	CreateSubject(ctx context.Context, s subject.Subject) (subject.Subject, error)
	UpdateSubject(ctx context.Context, s subject.Subject) (subject.Subject, error)
	DeleteSubject(ctx context.Context, name string) error
	RenameSubject(ctx context.Context, oldName, newName string) error
	MoveSubjectToIndex(ctx context.Context, name string, index int) error
	ReloadSubjects(ctx context.Context) error
}

// KeyPoolStore persists named pools of credentials.
type KeyPoolStore interface {
	ListPools(ctx context.Context) ([]keypool.Pool, error)
	GetPool(ctx context.Context, name string) (keypool.Pool, error)
	CreatePool(ctx context.Context, p keypool.Pool) (keypool.Pool, error)
	UpdatePool(ctx context.Context, p keypool.Pool) (keypool.Pool, error)
	DeletePool(ctx context.Context, name string) error
	ReloadPools(ctx context.Context) error
}

// ScheduleStore persists named daily activation schedules.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]schedule.Schedule, error)
	GetSchedule(ctx context.Context, name string) (schedule.Schedule, error)
	CreateSchedule(ctx context.Context, s schedule.Schedule) (schedule.Schedule, error)
	UpdateSchedule(ctx context.Context, s schedule.Schedule) (schedule.Schedule, error)
	DeleteSchedule(ctx context.Context, name string) error
	ReloadSchedules(ctx context.Context) error
}

// SettingsStore persists the single Settings document.
type SettingsStore interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	PutSettings(ctx context.Context, settings map[string]string) error
	ReloadSettings(ctx context.Context) error
}

// Store bundles every PersistentStore kind the core needs. Concrete
// backends (memory, sqlite, postgres) implement all four interfaces on one
// receiver; Store lets callers pass that receiver around as a unit.
type Store interface {
	SubjectStore
	KeyPoolStore
	ScheduleStore
	SettingsStore
}
