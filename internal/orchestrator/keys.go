package orchestrator

import (
	"context"

	"github.com/forgefleet/orchestrator/internal/domain/runtime"
)

// RotateKey clears the current assignment, acquires a fresh Credential
// from the Subject's pool, and assigns it.
// Publishes both a state-changed and a key-pool snapshot event.
func (o *Orchestrator) RotateKey(ctx context.Context, name string) error {
	sub, err := o.store.GetSubject(ctx, name)
	if err != nil {
		return refuse(ReasonUnknownSubject, "rotateKey: %q not found: %v", name, err)
	}
	if sub.KeyPoolName == "" {
		return refuse(ReasonMissingPool, "rotateKey: %q has no key pool configured", name)
	}
	if ok := o.states.Update(name, func(rs *runtime.RuntimeState) { rs.AssignedKeyName = "" }); !ok {
		return refuse(ReasonUnknownSubject, "rotateKey: %q has no runtime state registered", name)
	}

	inUse := o.states.AssignedKeyNames(sub.KeyPoolName, o.poolNameOf(ctx))
	cred, found, err := o.keys.Acquire(ctx, sub.KeyPoolName, inUse)
	if err != nil {
		o.publishKeyPoolsSnapshot(ctx)
		o.stateChanged(name)
		return err
	}
	if !found {
		o.publishKeyPoolsSnapshot(ctx)
		o.stateChanged(name)
		return refuse(ReasonNoCredential, "rotateKey: no credential available in pool %q", sub.KeyPoolName)
	}

	o.states.Update(name, func(rs *runtime.RuntimeState) { rs.AssignedKeyName = cred.Name })
	o.stateChanged(name)
	o.publishKeyPoolsSnapshot(ctx)
	return nil
}

// ReleaseKey clears the assignment and publishes a key-pool snapshot.
// Always succeeds.
func (o *Orchestrator) ReleaseKey(ctx context.Context, name string) error {
	o.states.Update(name, func(rs *runtime.RuntimeState) { rs.AssignedKeyName = "" })
	o.publishKeyPoolsSnapshot(ctx)
	return nil
}

// HoldKey administratively disables a Credential so it is skipped by
// future round-robin acquisitions; the CDKeyDisabled transport frame and
// the keypools HTTP surface both land here.
func (o *Orchestrator) HoldKey(ctx context.Context, poolName, keyName string) error {
	if err := o.keys.Hold(ctx, poolName, keyName); err != nil {
		return refuse(ReasonUnknownSubject, "holdKey: %v", err)
	}
	o.publishKeyPoolsSnapshot(ctx)
	return nil
}

// UnholdKey reverses HoldKey.
func (o *Orchestrator) UnholdKey(ctx context.Context, poolName, keyName string) error {
	if err := o.keys.Unhold(ctx, poolName, keyName); err != nil {
		return refuse(ReasonUnknownSubject, "unholdKey: %v", err)
	}
	o.publishKeyPoolsSnapshot(ctx)
	return nil
}
