package orchestrator

import (
	"context"

	"github.com/forgefleet/orchestrator/internal/bus"
	"github.com/forgefleet/orchestrator/internal/domain/event"
)

// SubscribeEvents registers a new Event Bus subscriber and, atomically
// with respect to Publish, injects the leading SubjectsSnapshot /
// KeyPoolsSnapshot / SchedulesSnapshot / SettingsSnapshot quartet before
// any incremental event can reach it.
func (o *Orchestrator) SubscribeEvents(ctx context.Context) bus.Subscription {
	return o.bus.SubscribeWithSnapshots(func(publish func(event.Event)) {
		subjects, err := o.store.ListSubjects(ctx)
		if err != nil {
			o.log.WithField("err", err).Warn("subscribeEvents: failed to list subjects")
			subjects = nil
		}
		runtimes := o.states.SnapshotAll()
		rows := make([]event.SubjectRuntime, 0, len(subjects))
		for _, sub := range subjects {
			sub := sub
			rs := runtimes[sub.Name]
			rows = append(rows, event.SubjectRuntime{Name: sub.Name, State: rs, Subject: &sub})
		}
		publish(event.Event{Kind: event.KindSubjectsSnapshot, Subjects: rows})

		pools, err := o.store.ListPools(ctx)
		if err != nil {
			o.log.WithField("err", err).Warn("subscribeEvents: failed to list key pools")
		}
		publish(event.Event{Kind: event.KindKeyPoolsSnapshot, KeyPools: pools})

		schedules, err := o.store.ListSchedules(ctx)
		if err != nil {
			o.log.WithField("err", err).Warn("subscribeEvents: failed to list schedules")
		}
		publish(event.Event{Kind: event.KindSchedulesSnapshot, Schedules: schedules})

		settings, err := o.store.GetSettings(ctx)
		if err != nil {
			o.log.WithField("err", err).Warn("subscribeEvents: failed to load settings")
		}
		publish(event.Event{Kind: event.KindSettingsSnapshot, Settings: settings})
	})
}
