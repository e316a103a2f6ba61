package collaborator

import "context"

// LocalCallerCheck tells the Orchestrator whether a caller is entitled to
// issue window-visibility commands. Its concrete policy lives outside the
// core (internal/httpapi's RemoteCallerCheck, which treats loopback and
// unix-socket peers as local, is one such policy).
type LocalCallerCheck interface {
	IsLocal(ctx context.Context) bool
}

// AlwaysLocal is a LocalCallerCheck that permits every caller; useful for
// single-process embeddings of the core where there is no remote surface.
type AlwaysLocal struct{}

func (AlwaysLocal) IsLocal(context.Context) bool { return true }
