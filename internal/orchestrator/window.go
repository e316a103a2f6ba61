package orchestrator

import (
	"context"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/domain/runtime"
)

// ShowWindow reveals a Subject's window. The policy restricting this
// to local callers lives in the RPC surface, but the Facade still
// consults LocalCallerCheck so any embedder gets the same guarantee without
// having to reimplement it.
func (o *Orchestrator) ShowWindow(ctx context.Context, name string) error {
	if !o.caller.IsLocal(ctx) {
		return refuse(ReasonNotLocal, "showWindow: caller is not local")
	}
	sub, err := o.store.GetSubject(ctx, name)
	if err != nil {
		return refuse(ReasonUnknownSubject, "showWindow: %q not found: %v", name, err)
	}
	if handle := o.liveHandle(name); handle != nil {
		if err := o.launcher.ShowWindow(ctx, handle, sub.WindowPosition); err != nil {
			return err
		}
	}
	sub.Visible = true
	if _, err := o.store.UpdateSubject(ctx, sub); err != nil {
		return err
	}
	o.stateChanged(name)
	return nil
}

// HideWindow is the counterpart of ShowWindow.
func (o *Orchestrator) HideWindow(ctx context.Context, name string) error {
	if !o.caller.IsLocal(ctx) {
		return refuse(ReasonNotLocal, "hideWindow: caller is not local")
	}
	sub, err := o.store.GetSubject(ctx, name)
	if err != nil {
		return refuse(ReasonUnknownSubject, "hideWindow: %q not found: %v", name, err)
	}
	if handle := o.liveHandle(name); handle != nil {
		if err := o.launcher.HideWindow(ctx, handle); err != nil {
			return err
		}
	}
	sub.Visible = false
	if _, err := o.store.UpdateSubject(ctx, sub); err != nil {
		return err
	}
	o.stateChanged(name)
	return nil
}

func (o *Orchestrator) liveHandle(name string) collaborator.ProcessHandle {
	rs, ok := o.states.Snapshot(name)
	if !ok || rs.State != runtime.Running {
		return nil
	}
	handle, _ := rs.Handle.(collaborator.ProcessHandle)
	return handle
}
