package supervisor

import (
	"context"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/domain/event"
	"github.com/forgefleet/orchestrator/internal/domain/runtime"
)

// HandleFrame implements collaborator.FrameHandler: every inbound Frame
// from the MessageTransport is dispatched here by SenderToken.
func (s *Supervisor) HandleFrame(ctx context.Context, frame collaborator.Frame) error {
	entry, ok := s.resolveToken(frame.SenderToken)
	if !ok {
		s.log.WithField("token", frame.SenderToken).WithField("function", frame.Function).
			Warn("frame from unrecognized sender token")
		return nil
	}
	name := entry.name

	switch frame.Function {
	case collaborator.FuncHeartBeat:
		s.states.Update(name, func(rs *runtime.RuntimeState) {
			rs.LastHeartbeat = s.clock.Now()
			rs.MissedHeartbeats = 0
		})

	case collaborator.FuncUpdateStatus:
		if len(frame.Args) == 0 {
			return nil
		}
		var changed bool
		s.states.Update(name, func(rs *runtime.RuntimeState) {
			changed = rs.Status != frame.Args[0]
			rs.Status = frame.Args[0]
		})
		if changed {
			s.stateChanged(name)
		}

	case collaborator.FuncUpdateRuns:
		s.bumpSubjectCounter(ctx, name, "runs")

	case collaborator.FuncUpdateDeaths:
		s.bumpSubjectCounter(ctx, name, "deaths")

	case collaborator.FuncUpdateChickens:
		s.bumpSubjectCounter(ctx, name, "aborts")

	case collaborator.FuncPrintToConsole:
		s.publish(event.Log(name, firstArg(frame.Args), "console", nil))

	case collaborator.FuncPrintToItemLog:
		s.publish(event.Log(name, firstArg(frame.Args), "itemlog", nil))

	case collaborator.FuncGetProfile, collaborator.FuncRequestGameInfo:
		// Profile/game-info serialization is a wire-format concern the core
		// does not own; acknowledged but not answered here.
		s.log.WithField("subject", name).WithField("function", frame.Function).Debug("profile/info query received")

	case collaborator.FuncSetProfile:
		sub, err := s.store.GetSubject(ctx, name)
		if err != nil {
			return err
		}
		sub.Arguments = frame.Args
		sub.UpdatedAt = s.clock.Now()
		if _, err := s.store.UpdateSubject(ctx, sub); err != nil {
			return err
		}
		s.stateChanged(name)

	case collaborator.FuncRestartProfile, collaborator.FuncStart:
		target := name
		if frame.Function == collaborator.FuncStart && len(frame.Args) > 0 && frame.Args[0] != "" {
			target = frame.Args[0]
		}
		if s.restartHandler != nil {
			s.restartHandler(target)
		}

	case collaborator.FuncStop:
		return s.RequestStop(ctx, name, false)

	case collaborator.FuncCDKeyInUse:
		s.log.WithField("subject", name).WithField("args", frame.Args).Debug("cd-key in-use report")

	case collaborator.FuncCDKeyDisabled, collaborator.FuncCDKeyRD:
		s.disableAssignedKey(ctx, name)

	case collaborator.FuncStore:
		if len(frame.Args) >= 2 {
			s.cacheMu.Lock()
			s.cache[frame.Args[0]] = frame.Args[1]
			s.cacheMu.Unlock()
		}

	case collaborator.FuncRetrieve:
		if len(frame.Args) >= 1 {
			s.cacheMu.Lock()
			v := s.cache[frame.Args[0]]
			s.cacheMu.Unlock()
			_ = s.launcher.SendMessage(ctx, entry.handle, collaborator.FuncRetrieve, v)
		}

	case collaborator.FuncDelete:
		if len(frame.Args) >= 1 {
			s.cacheMu.Lock()
			delete(s.cache, frame.Args[0])
			s.cacheMu.Unlock()
		}

	case collaborator.FuncShoutGlobal:
		s.broadcast(ctx, collaborator.FuncShoutGlobal, joinArgs(frame.Args))

	case collaborator.FuncStopSchedule:
		s.setScheduleEnabled(ctx, name, false)

	case collaborator.FuncStartSchedule:
		s.setScheduleEnabled(ctx, name, true)

	case collaborator.FuncWinMsg:
		s.log.WithField("subject", name).WithField("args", frame.Args).Debug("winmsg pass-through received")

	default:
		s.log.WithField("subject", name).WithField("function", frame.Function).Debug("unrecognized frame function")
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += "\x1f"
		}
		out += a
	}
	return out
}

func (s *Supervisor) bumpSubjectCounter(ctx context.Context, name, which string) {
	sub, err := s.store.GetSubject(ctx, name)
	if err != nil {
		return
	}
	switch which {
	case "runs":
		sub.Counters.Runs++
	case "aborts":
		sub.Counters.Aborts++
	case "deaths":
		sub.Counters.Deaths++
	}
	sub.UpdatedAt = s.clock.Now()
	if _, err := s.store.UpdateSubject(ctx, sub); err != nil {
		s.log.WithField("subject", name).WithField("err", err).Warn("failed to persist counter bump")
		return
	}
	s.stateChanged(name)
}

// disableAssignedKey implements the terminal-disable frames
// (CDKeyDisabled, CDKeyRD): hold the Subject's currently assigned key in its
// pool and clear the assignment, then ask for a supervised restart so a
// fresh credential gets rotated in.
func (s *Supervisor) disableAssignedKey(ctx context.Context, name string) {
	sub, err := s.store.GetSubject(ctx, name)
	if err != nil || sub.KeyPoolName == "" {
		return
	}
	snap, ok := s.states.Snapshot(name)
	if !ok || snap.AssignedKeyName == "" {
		return
	}
	if err := s.keys.Hold(ctx, sub.KeyPoolName, snap.AssignedKeyName); err != nil {
		s.log.WithField("subject", name).WithField("err", err).Warn("failed to hold disabled credential")
	}
	s.states.Update(name, func(rs *runtime.RuntimeState) { rs.AssignedKeyName = "" })
	s.publishKeyPoolsSnapshot(ctx)
	if s.restartHandler != nil {
		s.restartHandler(name)
	}
}

func (s *Supervisor) setScheduleEnabled(ctx context.Context, name string, enabled bool) {
	sub, err := s.store.GetSubject(ctx, name)
	if err != nil {
		return
	}
	sub.ScheduleEnabled = enabled
	sub.UpdatedAt = s.clock.Now()
	if _, err := s.store.UpdateSubject(ctx, sub); err != nil {
		s.log.WithField("subject", name).WithField("err", err).Warn("failed to persist schedule-enabled flag")
		return
	}
	s.stateChanged(name)
}
