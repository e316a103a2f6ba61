package orchestrator

import (
	"context"

	"github.com/forgefleet/orchestrator/internal/domain/runtime"
)

// Restart performs the supervised stop+start the request-restart transport
// frame asks for. The stop clears the assigned
// credential and the fresh supervision task re-acquires from the pool, so
// key rotation falls out of the ordinary lifecycle rather than needing a
// dedicated path.
func (o *Orchestrator) Restart(ctx context.Context, name string) error {
	snap, ok := o.states.Snapshot(name)
	if !ok {
		return refuse(ReasonUnknownSubject, "restart: %q has no runtime state registered", name)
	}
	if snap.State != runtime.Stopped {
		if err := o.Stop(ctx, name, true); err != nil {
			return err
		}
	}

	if sub, err := o.store.GetSubject(ctx, name); err == nil {
		sub.Counters.Restarts++
		if _, err := o.store.UpdateSubject(ctx, sub); err != nil {
			o.log.WithField("subject", name).WithField("err", err).Warn("restart: failed to persist restart counter")
		}
	}

	return o.Start(ctx, name)
}
