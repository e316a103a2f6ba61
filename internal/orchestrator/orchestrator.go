// Package orchestrator implements the Orchestrator Facade: the single
// public contract the surrounding product consumes. It composes the Event
// Bus, Runtime State Store, Key Pool, Supervisor, and the persistence
// collaborator, enforcing every command's preconditions before delegating
// the mutation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgefleet/orchestrator/internal/bus"
	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/domain/event"
	"github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/internal/keypool"
	"github.com/forgefleet/orchestrator/internal/statestore"
	"github.com/forgefleet/orchestrator/internal/storage"
	"github.com/forgefleet/orchestrator/internal/supervisor"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// Orchestrator is the Orchestrator Facade.
type Orchestrator struct {
	store      storage.Store
	states     *statestore.Store
	keys       *keypool.Service
	bus        *bus.Bus
	supervisor *supervisor.Supervisor
	caller     collaborator.LocalCallerCheck
	launcher   collaborator.LaunchCollaborator
	log        *logger.Logger

	mu       sync.Mutex
	rootCtx  context.Context
	tasks    map[string]context.CancelFunc
	taskWG   sync.WaitGroup
}

// New constructs the Facade. caller defaults to collaborator.AlwaysLocal{}
// if nil.
func New(
	store storage.Store,
	states *statestore.Store,
	keys *keypool.Service,
	b *bus.Bus,
	sup *supervisor.Supervisor,
	launcher collaborator.LaunchCollaborator,
	caller collaborator.LocalCallerCheck,
	log *logger.Logger,
) *Orchestrator {
	if caller == nil {
		caller = collaborator.AlwaysLocal{}
	}
	if log == nil {
		log = logger.NewDefault("orchestrator")
	}
	return &Orchestrator{
		store:      store,
		states:     states,
		keys:       keys,
		bus:        b,
		supervisor: sup,
		launcher:   launcher,
		caller:     caller,
		log:        log,
		tasks:      make(map[string]context.CancelFunc),
	}
}

// Run wires the Facade's own lifetime to ctx: supervision tasks spawned by
// Start are children of ctx and are joined when ctx is cancelled. Callers
// embedding the Facade as an internal/system.Service should call Run once
// at process start and Wait (or simply let ctx cancellation propagate) at
// shutdown.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.rootCtx = ctx
	o.mu.Unlock()
}

// Wait blocks until every spawned supervision task has returned. Intended
// for graceful shutdown after the root context has been cancelled.
func (o *Orchestrator) Wait() {
	o.taskWG.Wait()
}

func (o *Orchestrator) taskContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rootCtx != nil {
		return o.rootCtx
	}
	return context.Background()
}

// AddSubject announces a Subject the persistence collaborator already holds
// to the core. It is idempotent.
func (o *Orchestrator) AddSubject(ctx context.Context, name string) error {
	if _, err := o.store.GetSubject(ctx, name); err != nil {
		return refuse(ReasonUnknownSubject, "addSubject: %q not found in persistence: %v", name, err)
	}
	o.states.Register(name)
	return nil
}

// RemoveSubject destroys a Subject: forces it to Stopped, cancels any
// supervision task, drops its RuntimeState, and deletes the persisted
// record.
func (o *Orchestrator) RemoveSubject(ctx context.Context, name string) error {
	if err := o.supervisor.RequestStop(ctx, name, true); err != nil {
		o.log.WithField("subject", name).WithField("err", err).Warn("removeSubject: force-stop failed")
	}
	o.cancelTask(name)
	o.states.Unregister(name)
	if err := o.store.DeleteSubject(ctx, name); err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("removeSubject: %w", err)
	}
	o.publishSubjectsSnapshot(ctx)
	return nil
}

// Start moves a Subject from Stopped to Starting and, on success,
// publishes the state change and spawns a Supervisor task.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	if _, err := o.store.GetSubject(ctx, name); err != nil {
		return refuse(ReasonUnknownSubject, "start: %q not found: %v", name, err)
	}
	if !o.states.TryTransition(name, runtime.Starting) {
		snap, ok := o.states.Snapshot(name)
		if !ok {
			return refuse(ReasonUnknownSubject, "start: %q has no runtime state registered", name)
		}
		return refuse(ReasonIllegalTransition, "start: %q cannot move from %s to %s", name, snap.State, runtime.Starting)
	}
	o.stateChanged(name)

	taskCtx, cancel := context.WithCancel(o.taskContext())
	o.mu.Lock()
	o.tasks[name] = cancel
	o.mu.Unlock()

	o.taskWG.Add(1)
	go func() {
		defer o.taskWG.Done()
		defer func() {
			o.mu.Lock()
			delete(o.tasks, name)
			o.mu.Unlock()
		}()
		o.supervisor.Run(taskCtx, name)
	}()
	return nil
}

func (o *Orchestrator) cancelTask(name string) {
	o.mu.Lock()
	cancel, ok := o.tasks[name]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop delegates to the Supervisor, which is idempotent on an
// already-Stopped Subject.
func (o *Orchestrator) Stop(ctx context.Context, name string, force bool) error {
	return o.supervisor.RequestStop(ctx, name, force)
}

// StartAll applies Start to every registered Subject, aggregating
// per-Subject failures instead of stopping at the first one.
func (o *Orchestrator) StartAll(ctx context.Context) map[string]error {
	return o.forEachSubject(ctx, func(name string) error {
		return o.Start(ctx, name)
	})
}

// StopAll applies Stop(force=false) to every registered Subject, aggregating
// per-Subject failures instead of stopping at the first one.
func (o *Orchestrator) StopAll(ctx context.Context) map[string]error {
	return o.forEachSubject(ctx, func(name string) error {
		return o.Stop(ctx, name, false)
	})
}

func (o *Orchestrator) forEachSubject(ctx context.Context, fn func(name string) error) map[string]error {
	subjects, err := o.store.ListSubjects(ctx)
	out := make(map[string]error)
	if err != nil {
		out[""] = fmt.Errorf("list subjects: %w", err)
		return out
	}
	for _, sub := range subjects {
		if err := fn(sub.Name); err != nil {
			out[sub.Name] = err
		}
	}
	return out
}

// ResetStats zeroes a Subject's accumulated counters through persistence
// and publishes the change.
func (o *Orchestrator) ResetStats(ctx context.Context, name string) error {
	sub, err := o.store.GetSubject(ctx, name)
	if err != nil {
		return refuse(ReasonUnknownSubject, "resetStats: %q not found: %v", name, err)
	}
	sub.Counters = subject.Counters{}
	if _, err := o.store.UpdateSubject(ctx, sub); err != nil {
		return fmt.Errorf("resetStats: %w", err)
	}
	o.stateChanged(name)
	return nil
}

// ListSubjectsWithState returns every registered Subject paired with its
// current RuntimeState, the shape httpapi's list endpoint and the
// SubjectsSnapshot event both need.
func (o *Orchestrator) ListSubjectsWithState(ctx context.Context) ([]subject.Subject, map[string]runtime.RuntimeState, error) {
	subjects, err := o.store.ListSubjects(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listSubjects: %w", err)
	}
	return subjects, o.states.SnapshotAll(), nil
}

// RecentLogLines returns up to limit of the most recently published
// LogLine events from the Event Bus's retained ring, independent of any
// subscriber's join time.
func (o *Orchestrator) RecentLogLines(limit int) []event.Event {
	return o.bus.RecentLogLines(limit)
}

// Stats returns a Subject's persisted record and current RuntimeState.
func (o *Orchestrator) Stats(ctx context.Context, name string) (subject.Subject, runtime.RuntimeState, error) {
	sub, err := o.store.GetSubject(ctx, name)
	if err != nil {
		return subject.Subject{}, runtime.RuntimeState{}, refuse(ReasonUnknownSubject, "stats: %q not found: %v", name, err)
	}
	rs, ok := o.states.Snapshot(name)
	if !ok {
		return sub, runtime.RuntimeState{}, nil
	}
	return sub, rs, nil
}

// SetScheduleEnabled persists the flag and publishes the full Subject.
func (o *Orchestrator) SetScheduleEnabled(ctx context.Context, name string, enabled bool) error {
	sub, err := o.store.GetSubject(ctx, name)
	if err != nil {
		return refuse(ReasonUnknownSubject, "setScheduleEnabled: %q not found: %v", name, err)
	}
	sub.ScheduleEnabled = enabled
	if _, err := o.store.UpdateSubject(ctx, sub); err != nil {
		return fmt.Errorf("setScheduleEnabled: %w", err)
	}
	o.stateChanged(name)
	return nil
}

// Reorder moves name to newIndex in the global persisted display order.
// Group is a plain attribute; ordering never consults it.
func (o *Orchestrator) Reorder(ctx context.Context, name string, newIndex int) error {
	subjects, err := o.store.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("reorder: %w", err)
	}
	found := false
	for _, s := range subjects {
		if s.Name == name {
			found = true
			break
		}
	}
	if !found {
		return refuse(ReasonUnknownSubject, "reorder: %q not found", name)
	}
	if newIndex < 0 || newIndex >= len(subjects) {
		return refuse(ReasonOutOfRange, "reorder: index %d out of range [0,%d)", newIndex, len(subjects))
	}
	if err := o.store.MoveSubjectToIndex(ctx, name, newIndex); err != nil {
		return fmt.Errorf("reorder: %w", err)
	}
	o.publishSubjectsSnapshot(ctx)
	return nil
}

// Rename rewrites the persisted Subject under a new name and re-keys the
// Runtime State Store entry; no state-machine side effects occur.
func (o *Orchestrator) Rename(ctx context.Context, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	if err := o.store.RenameSubject(ctx, oldName, newName); err != nil {
		if err == storage.ErrNotFound {
			return refuse(ReasonUnknownSubject, "rename: %q not found", oldName)
		}
		if err == storage.ErrAlreadyExists {
			return refuse(ReasonAlreadyExists, "rename: %q already exists", newName)
		}
		return fmt.Errorf("rename: %w", err)
	}
	o.states.Rename(oldName, newName)
	o.publishSubjectsSnapshot(ctx)
	return nil
}

// --- internal event helpers -------------------------------------------

func (o *Orchestrator) stateChanged(name string) {
	rs, ok := o.states.Snapshot(name)
	if !ok {
		return
	}
	var full *subject.Subject
	if sub, err := o.store.GetSubject(context.Background(), name); err == nil {
		full = &sub
	}
	o.bus.Publish(event.SubjectStateChanged(name, rs, full))
}

func (o *Orchestrator) publishSubjectsSnapshot(ctx context.Context) {
	subjects, err := o.store.ListSubjects(ctx)
	if err != nil {
		o.log.WithField("err", err).Warn("failed to list subjects for snapshot")
		return
	}
	runtimes := o.states.SnapshotAll()
	rows := make([]event.SubjectRuntime, 0, len(subjects))
	for _, sub := range subjects {
		sub := sub
		rs := runtimes[sub.Name]
		rows = append(rows, event.SubjectRuntime{Name: sub.Name, State: rs, Subject: &sub})
	}
	o.bus.Publish(event.Event{Kind: event.KindSubjectsSnapshot, Subjects: rows})
}

func (o *Orchestrator) publishKeyPoolsSnapshot(ctx context.Context) {
	pools, err := o.store.ListPools(ctx)
	if err != nil {
		o.log.WithField("err", err).Warn("failed to list key pools for snapshot")
		return
	}
	o.bus.Publish(event.Event{Kind: event.KindKeyPoolsSnapshot, KeyPools: pools})
}

// poolNameOf resolves a Subject name to its configured pool name, the
// shape statestore.Store.AssignedKeyNames needs to restrict its scan.
func (o *Orchestrator) poolNameOf(ctx context.Context) func(string) string {
	return func(name string) string {
		sub, err := o.store.GetSubject(ctx, name)
		if err != nil {
			return ""
		}
		return sub.KeyPoolName
	}
}

// Name identifies this component in logs and the system service registry.
func (o *Orchestrator) Name() string { return "orchestrator" }
