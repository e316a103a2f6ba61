// Package schedule implements the Schedule Evaluator: a
// periodic tick that starts or stops Subjects by comparing the current
// local time against their named Schedule's periods.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/config"
	core "github.com/forgefleet/orchestrator/internal/core/service"
	domainruntime "github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/statestore"
	"github.com/forgefleet/orchestrator/internal/storage"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// Orchestrator is the narrow slice of the Orchestrator Facade
// the Evaluator is allowed to call. Depending on this interface instead of
// the concrete facade keeps the Evaluator ignorant of everything else the
// Facade does.
type Orchestrator interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, force bool) error
}

// Evaluator runs the periodic activation tick.
type Evaluator struct {
	store  storage.Store
	states *statestore.Store
	orch   Orchestrator
	clock  collaborator.Clock
	log    *logger.Logger

	// cronSchedule drives the tick cadence. robfig/cron/v3 computes the
	// next fire time; the Evaluator itself performs the sleep so that it
	// can select on ctx.Done() and exit promptly on shutdown instead of
	// being at the mercy of cron's own internal goroutine.
	cronSchedule cron.Schedule

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Evaluator that ticks every tuning.ScheduleTick.
func New(store storage.Store, states *statestore.Store, orch Orchestrator, clock collaborator.Clock, tuning config.Tuning, log *logger.Logger) (*Evaluator, error) {
	if clock == nil {
		clock = collaborator.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("schedule-evaluator")
	}
	interval := tuning.ScheduleTick
	if interval <= 0 {
		interval = config.DefaultTuning().ScheduleTick
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("@every %s", interval))
	if err != nil {
		return nil, fmt.Errorf("schedule: parse tick interval %s: %w", interval, err)
	}
	return &Evaluator{
		store:        store,
		states:       states,
		orch:         orch,
		clock:        clock,
		log:          log,
		cronSchedule: sched,
	}, nil
}

// Name satisfies internal/system.Service.
func (e *Evaluator) Name() string { return "schedule-evaluator" }

// Descriptor advertises this component's placement to internal/system's
// descriptor collection.
func (e *Evaluator) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "schedule-evaluator",
		Domain:       "orchestrator",
		Layer:        core.LayerEngine,
		Capabilities: []string{"time-window-activation"},
	}
}

// Start launches the tick loop in the background. It returns immediately;
// Stop must be called to join it.
func (e *Evaluator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		e.run(runCtx)
	}()
	return nil
}

// Stop signals the tick loop to exit and waits for it (bounded by ctx).
func (e *Evaluator) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done == nil {
		return nil
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// run is the tick loop. Each tick is non-cancelable mid-iteration; the
// loop only observes ctx between ticks, while sleeping.
func (e *Evaluator) run(ctx context.Context) {
	next := e.cronSchedule.Next(e.clock.Now())
	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			e.tick(ctx)
			next = e.cronSchedule.Next(e.clock.Now())
		}
	}
}

// tick enumerates every Subject and, for each whose schedule is enabled
// and resolvable, issues start/stop per period membership. Missing
// schedules and non-Stopped/Running states are simply skipped; the
// Evaluator never acts on Starting, Stopping, or Error, letting those
// settle.
func (e *Evaluator) tick(ctx context.Context) {
	subjects, err := e.store.ListSubjects(ctx)
	if err != nil {
		e.log.WithField("err", err).Warn("schedule tick: failed to list subjects")
		return
	}

	now := e.clock.LocalNow()
	nowMinutes := now.Hour()*60 + now.Minute()

	for _, sub := range subjects {
		if !sub.ScheduleEnabled || sub.ScheduleName == "" {
			continue
		}
		sc, err := e.store.GetSchedule(ctx, sub.ScheduleName)
		if err != nil {
			// Missing schedule: no action.
			continue
		}
		rs, ok := e.states.Snapshot(sub.Name)
		if !ok {
			continue
		}

		inWindow := sc.Contains(nowMinutes)
		switch {
		case inWindow && rs.State == domainruntime.Stopped:
			if err := e.orch.Start(ctx, sub.Name); err != nil {
				e.log.WithField("subject", sub.Name).WithField("err", err).Warn("schedule: start failed")
			}
		case !inWindow && rs.State == domainruntime.Running:
			if err := e.orch.Stop(ctx, sub.Name, false); err != nil {
				e.log.WithField("subject", sub.Name).WithField("err", err).Warn("schedule: stop failed")
			}
		}
	}
}
