package orchestrator

import "context"

// BroadcastMessage sends the same transport message to every Running
// Subject, best-effort.
func (o *Orchestrator) BroadcastMessage(ctx context.Context, messageType, text string) {
	o.supervisor.Broadcast(ctx, messageType, text)
}

// SendMessage sends one transport message to a single Subject's live
// process, best-effort.
func (o *Orchestrator) SendMessage(ctx context.Context, name, messageType, text string) error {
	return o.supervisor.SendMessageTo(ctx, name, messageType, text)
}
