// Package supervisor implements the Supervisor: the
// launch/monitor/crash-recovery loop for one Subject, plus ingestion of the
// frames its launched runtime pushes back (heartbeats, counter bumps,
// profile rewrites, CD-Key health reports).
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/forgefleet/orchestrator/internal/bus"
	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/config"
	core "github.com/forgefleet/orchestrator/internal/core/service"
	"github.com/forgefleet/orchestrator/internal/domain/event"
	"github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/internal/keypool"
	"github.com/forgefleet/orchestrator/internal/statestore"
	"github.com/forgefleet/orchestrator/internal/storage"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// MetricsHooks bundles the optional observation callbacks an operator can
// wire in via SetMetricsHooks. The zero value does nothing; the core never
// requires a metrics collector to function.
type MetricsHooks struct {
	Launch           core.ObservationHooks
	OnCrash          func(subjectName string)
	OnHeartbeatMiss  func(subjectName string)
}

// Supervisor runs the per-Subject launch/monitor/recover loop. One
// Supervisor instance is shared by every Subject; Run is called once per
// Subject per supervision task.
type Supervisor struct {
	store    storage.Store
	states   *statestore.Store
	keys     *keypool.Service
	launcher collaborator.LaunchCollaborator
	bus      *bus.Bus
	clock    collaborator.Clock
	tuning   config.Tuning
	log      *logger.Logger

	mu      sync.Mutex
	handles map[string]handleEntry // HostAnnounceToken -> (Subject name, handle)

	cacheMu sync.Mutex
	cache   map[string]string // side key-value cache for the store/retrieve/delete frames, not part of the state model

	restartHandler func(name string) // set via SetRestartHandler; wired to the Orchestrator Facade

	metrics MetricsHooks
}

type handleEntry struct {
	name   string
	handle collaborator.ProcessHandle
}

// New constructs a Supervisor. launcher and bus must be non-nil; clock
// defaults to collaborator.SystemClock{} if nil.
func New(store storage.Store, states *statestore.Store, keys *keypool.Service, launcher collaborator.LaunchCollaborator, b *bus.Bus, clock collaborator.Clock, tuning config.Tuning, log *logger.Logger) *Supervisor {
	if clock == nil {
		clock = collaborator.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("supervisor")
	}
	return &Supervisor{
		store:    store,
		states:   states,
		keys:     keys,
		launcher: launcher,
		bus:      b,
		clock:    clock,
		tuning:   tuning,
		log:      log,
		handles:  make(map[string]handleEntry),
		cache:    make(map[string]string),
	}
}

// SetRestartHandler wires the Orchestrator Facade's supervised
// stop+start-with-rotation operation into the frame dispatcher, used by
// the request-restart and terminal-disable frames.
func (s *Supervisor) SetRestartHandler(fn func(name string)) {
	s.restartHandler = fn
}

// SetMetricsHooks wires an observability collector into the launch,
// crash, and heartbeat-miss paths. Safe to call once at process wiring
// time; unset hooks are no-ops.
func (s *Supervisor) SetMetricsHooks(h MetricsHooks) {
	s.metrics = h
}

func (s *Supervisor) registerHandle(token, name string, handle collaborator.ProcessHandle) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.handles[token] = handleEntry{name: name, handle: handle}
	s.mu.Unlock()
}

func (s *Supervisor) unregisterHandle(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	delete(s.handles, token)
	s.mu.Unlock()
}

func (s *Supervisor) resolveToken(token string) (handleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.handles[token]
	return e, ok
}

// broadcast sends messageType/payload to every Running Subject's process,
// best-effort.
func (s *Supervisor) broadcast(ctx context.Context, messageType, payload string) {
	s.mu.Lock()
	entries := make([]handleEntry, 0, len(s.handles))
	for _, e := range s.handles {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if err := s.launcher.SendMessage(ctx, e.handle, messageType, payload); err != nil {
			s.log.WithField("subject", e.name).WithField("err", err).Warn("broadcast send failed")
		}
	}
}

func (s *Supervisor) publish(e event.Event) {
	s.bus.Publish(e)
}

func (s *Supervisor) publishSubjectsSnapshot(ctx context.Context) {
	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		s.log.WithField("err", err).Warn("failed to list subjects for snapshot")
		return
	}
	runtimes := s.states.SnapshotAll()
	rows := make([]event.SubjectRuntime, 0, len(subjects))
	for _, sub := range subjects {
		rs := runtimes[sub.Name]
		rows = append(rows, event.SubjectRuntime{Name: sub.Name, State: rs, Subject: &sub})
	}
	s.publish(event.Event{Kind: event.KindSubjectsSnapshot, Subjects: rows})
}

func (s *Supervisor) publishKeyPoolsSnapshot(ctx context.Context) {
	pools, err := s.store.ListPools(ctx)
	if err != nil {
		s.log.WithField("err", err).Warn("failed to list key pools for snapshot")
		return
	}
	s.publish(event.Event{Kind: event.KindKeyPoolsSnapshot, KeyPools: pools})
}

func (s *Supervisor) stateChanged(name string) {
	rs, ok := s.states.Snapshot(name)
	if !ok {
		return
	}
	var full *subject.Subject
	if sub, err := s.store.GetSubject(context.Background(), name); err == nil {
		full = &sub
	}
	s.publish(event.SubjectStateChanged(name, rs, full))
}

// Run drives one Subject from Starting through to a terminal state,
// including crash-retry re-entry. ctx governs the task's lifetime
// (process shutdown); the per-task CancelSignal governs a deliberate stop.
// The crash-retry budget is local to this task: it accumulates across
// retries within one supervised run and resets when a fresh task begins,
// while the RuntimeState's visible crash-count still zeroes on every
// Running transition.
func (s *Supervisor) Run(ctx context.Context, name string) {
	crashes := 0
	for {
		if !s.runOnce(ctx, name, &crashes) {
			return
		}
	}
}

// runOnce executes one preflight/launch/monitor pass. It returns true
// only from the crash-recovery path when another attempt should begin.
func (s *Supervisor) runOnce(ctx context.Context, name string, crashes *int) (retry bool) {
	cancel := runtime.NewCancelSignal()
	s.states.Update(name, func(rs *runtime.RuntimeState) { rs.SetCancel(cancel) })

	sub, err := s.store.GetSubject(ctx, name)
	if err != nil {
		s.states.Update(name, func(rs *runtime.RuntimeState) { rs.Status = "subject not found" })
		s.states.TryTransition(name, runtime.Error)
		s.stateChanged(name)
		return false
	}

	// Preflight: acquire a credential if this Subject draws from a pool.
	var cred string
	var credPayload string
	if sub.KeyPoolName != "" {
		inUse := s.states.AssignedKeyNames(sub.KeyPoolName, func(n string) string {
			other, err := s.store.GetSubject(ctx, n)
			if err != nil {
				return ""
			}
			return other.KeyPoolName
		})
		c, found, err := s.keys.Acquire(ctx, sub.KeyPoolName, inUse)
		if err != nil || !found {
			s.states.Update(name, func(rs *runtime.RuntimeState) { rs.Status = "no available keys" })
			s.states.TryTransition(name, runtime.Error)
			s.stateChanged(name)
			return false
		}
		cred = c.Name
		credPayload = c.Payload
	}

	// Launch.
	s.states.Update(name, func(rs *runtime.RuntimeState) { rs.AssignedKeyName = cred })
	s.publishKeyPoolsSnapshot(ctx)

	token := uuid.NewString()
	cfg := collaborator.LaunchConfig{
		Executable:        sub.Executable,
		Arguments:         sub.Arguments,
		CredentialName:    cred,
		CredentialPayload: credPayload,
		WindowPosition:    sub.WindowPosition,
		Visible:           sub.Visible,
		HostAnnounceToken: token,
	}

	finishObservation := core.StartObservation(ctx, s.metrics.Launch, map[string]string{"subject": name})
	launchCtx, cancelLaunch := context.WithTimeout(ctx, s.tuning.LaunchReadyTimeout)
	handle, err := s.launcher.Launch(launchCtx, cfg)
	cancelLaunch()
	finishObservation(err)
	if err != nil {
		s.states.Update(name, func(rs *runtime.RuntimeState) { rs.Status = "launch failed: " + err.Error() })
		return s.crashRecovery(ctx, name, crashes)
	}
	s.registerHandle(token, name, handle)

	// Enter Running.
	s.states.Update(name, func(rs *runtime.RuntimeState) {
		rs.Handle = handle
		rs.StartedAt = s.clock.Now()
		rs.LastHeartbeat = time.Time{}
		rs.CrashCount = 0
		rs.MissedHeartbeats = 0
		rs.Status = ""
	})
	if !s.states.TryTransition(name, runtime.Running) {
		s.unregisterHandle(token)
		s.doStop(ctx, name, handle, true)
		return false
	}
	s.stateChanged(name)

	// Monitor loop.
	result := s.monitor(ctx, name, handle, cancel, token)
	s.unregisterHandle(token)
	switch result {
	case monitorCrashed:
		return s.crashRecovery(ctx, name, crashes)
	default: // monitorExited, monitorForcedStop, monitorCancelled
		return false
	}
}

type monitorResult int

const (
	monitorExited monitorResult = iota
	monitorCrashed
	monitorForcedStop
	monitorCancelled
)

func (s *Supervisor) monitor(ctx context.Context, name string, handle collaborator.ProcessHandle, cancel *runtime.CancelSignal, token string) monitorResult {
	pollTicker := time.NewTicker(s.tuning.MonitorPollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(s.tuning.HeartbeatPollInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.doStop(ctx, name, handle, true)
			return monitorCancelled
		case <-cancel.Done():
			// The signal only fires from RequestStop, which performs the
			// stop cleanup itself; a second doStop here could stomp a
			// Starting state if a restart is already under way.
			return monitorCancelled
		case <-pollTicker.C:
			if handle.Exited() {
				if handle.ExitCode() == 0 {
					s.doStop(ctx, name, handle, false)
					return monitorExited
				}
				return monitorCrashed
			}
		case <-heartbeatTicker.C:
			snap, ok := s.states.Snapshot(name)
			if !ok {
				continue
			}
			baseline := snap.LastHeartbeat
			if baseline.IsZero() {
				baseline = snap.StartedAt
			}
			elapsed := s.clock.Now().Sub(baseline)
			if elapsed <= s.tuning.HeartbeatTimeout {
				continue
			}
			_ = s.launcher.SendMessage(ctx, handle, collaborator.MessageTypeNudge, token)
			var missed int
			s.states.Update(name, func(rs *runtime.RuntimeState) {
				rs.MissedHeartbeats++
				missed = rs.MissedHeartbeats
				rs.Status = "heartbeat overdue, last seen " + humanize.Time(baseline)
			})
			if s.metrics.OnHeartbeatMiss != nil {
				s.metrics.OnHeartbeatMiss(name)
			}
			if missed >= s.tuning.MaxMissedHeartbeats {
				s.doStop(ctx, name, handle, true)
				return monitorForcedStop
			}
		}
	}
}

// crashRecovery handles a non-zero exit or a failed launch. It moves the
// Subject through Error (the only legal edge out of Running or Starting
// for a crash), clears the credential, and returns true when another
// launch attempt should begin.
func (s *Supervisor) crashRecovery(ctx context.Context, name string, crashes *int) (retry bool) {
	sub, err := s.store.GetSubject(ctx, name)
	if err == nil {
		sub.Counters.Crashes++
		sub.UpdatedAt = s.clock.Now()
		_, _ = s.store.UpdateSubject(ctx, sub)
	}
	if s.metrics.OnCrash != nil {
		s.metrics.OnCrash(name)
	}

	*crashes++
	s.states.Update(name, func(rs *runtime.RuntimeState) {
		rs.AssignedKeyName = ""
		rs.CrashCount = *crashes
	})
	s.states.TryTransition(name, runtime.Error)
	s.stateChanged(name)
	s.publishKeyPoolsSnapshot(ctx)

	if *crashes < s.tuning.MaxCrashRetries {
		select {
		case <-time.After(s.tuning.CrashBackoff):
		case <-ctx.Done():
			s.states.TryTransition(name, runtime.Stopped)
			s.stateChanged(name)
			return false
		}
		s.states.TryTransition(name, runtime.Starting)
		s.stateChanged(name)
		return true
	}

	s.states.Update(name, func(rs *runtime.RuntimeState) {
		rs.Status = fmt.Sprintf("max retries exceeded (%s crashes)", humanize.Comma(int64(*crashes)))
	})
	if err == nil {
		sub.ScheduleEnabled = false
		sub.UpdatedAt = s.clock.Now()
		if _, err := s.store.UpdateSubject(ctx, sub); err != nil {
			s.log.WithField("err", err).Warn("failed to disable schedule after max crash retries")
		}
	}
	s.states.TryTransition(name, runtime.Stopped)
	s.stateChanged(name)
	return false
}

// doStop is the shared stop-cleanup tail: terminate the handle, drive
// the state to Stopped, clear transient fields, and publish. Idempotent;
// a second call against an already Stopped Subject is a harmless no-op
// beyond the publish.
func (s *Supervisor) doStop(ctx context.Context, name string, handle collaborator.ProcessHandle, force bool) {
	stopping := false
	if !force {
		stopping = s.states.TryTransition(name, runtime.Stopping)
	} else {
		s.states.Update(name, func(rs *runtime.RuntimeState) {
			if rs.State != runtime.Stopped {
				rs.State = runtime.Stopping
				stopping = true
			}
		})
	}
	if stopping {
		s.stateChanged(name)
	}

	if handle != nil {
		if err := s.launcher.Terminate(ctx, handle, s.tuning.GracefulStopTimeout); err != nil {
			s.log.WithField("err", err).WithField("subject", name).Warn("terminate failed")
		}
	}

	s.states.TryTransition(name, runtime.Stopped)
	s.states.Update(name, func(rs *runtime.RuntimeState) {
		rs.Status = ""
		rs.AssignedKeyName = ""
		rs.Handle = nil
	})
	s.stateChanged(name)
	s.publishKeyPoolsSnapshot(ctx)
}

// RequestStop implements the Orchestrator Facade's stop(name, force)
// contract: used when a caller (not the monitor loop) asks a
// Running Subject to stop. Idempotent on an already-Stopped Subject.
func (s *Supervisor) RequestStop(ctx context.Context, name string, force bool) error {
	snap, ok := s.states.Snapshot(name)
	if !ok {
		return fmt.Errorf("supervisor: unknown subject %q", name)
	}
	if snap.State == runtime.Stopped {
		return nil
	}
	if !force && !runtime.CanTransition(snap.State, runtime.Stopping) {
		return fmt.Errorf("supervisor: %q cannot stop from state %s", name, snap.State)
	}

	// Snapshots are clones without the cancel signal, so fire it on the
	// live record.
	s.states.Update(name, func(rs *runtime.RuntimeState) {
		if c := rs.Cancel(); c != nil {
			c.Fire()
		}
	})

	handle, _ := snap.Handle.(collaborator.ProcessHandle)
	s.doStop(ctx, name, handle, force)
	return nil
}

// Broadcast sends messageType/payload to every currently Running Subject's
// process, best-effort.
func (s *Supervisor) Broadcast(ctx context.Context, messageType, payload string) {
	s.broadcast(ctx, messageType, payload)
}

// SendMessageTo sends one transport message to name's current process
// handle. It returns an error if name is unknown or has no live handle
// (not Running, or never launched).
func (s *Supervisor) SendMessageTo(ctx context.Context, name, messageType, payload string) error {
	snap, ok := s.states.Snapshot(name)
	if !ok {
		return fmt.Errorf("supervisor: unknown subject %q", name)
	}
	handle, ok := snap.Handle.(collaborator.ProcessHandle)
	if !ok || handle == nil {
		return fmt.Errorf("supervisor: %q has no live process handle", name)
	}
	return s.launcher.SendMessage(ctx, handle, messageType, payload)
}

var _ collaborator.FrameHandler = (*Supervisor)(nil)
