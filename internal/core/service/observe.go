// Package service holds the small cross-cutting helpers every component
// shares: lifecycle descriptors, observation hooks, retry, and list-limit
// clamping. It deliberately imports nothing from the rest of the module so
// any package can depend on it.
package service

import (
	"context"
	"time"
)

// ObservationHooks captures optional callbacks around one operation, e.g.
// a subject launch attempt. The zero value does nothing.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks provides a safe default.
var NoopObservationHooks = ObservationHooks{}

// StartObservation triggers OnStart and returns a completion callback for
// OnComplete. meta carries operation labels ("subject", "pool") through to
// whatever collector the hooks feed.
func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart != nil {
		hooks.OnStart(ctx, meta)
	}
	start := time.Now()
	return func(err error) {
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, meta, err, time.Since(start))
		}
	}
}
