package memory

import (
	"context"
	"testing"

	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/internal/storage"
)

func TestSubjectCRUDAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := s.CreateSubject(ctx, subject.Subject{Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	if _, err := s.CreateSubject(ctx, subject.Subject{Name: "alpha"}); err != storage.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	list, err := s.ListSubjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := []string{list[0].Name, list[1].Name, list[2].Name}; got[0] != "alpha" || got[1] != "beta" || got[2] != "gamma" {
		t.Fatalf("unexpected order: %v", got)
	}

	if err := s.MoveSubjectToIndex(ctx, "gamma", 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	list, _ = s.ListSubjects(ctx)
	if list[0].Name != "gamma" {
		t.Fatalf("expected gamma first, got %s", list[0].Name)
	}

	if err := s.RenameSubject(ctx, "gamma", "delta"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.GetSubject(ctx, "gamma"); err != storage.ErrNotFound {
		t.Fatalf("expected old name gone, got %v", err)
	}
	got, err := s.GetSubject(ctx, "delta")
	if err != nil || got.Name != "delta" {
		t.Fatalf("expected renamed subject, got %+v / %v", got, err)
	}

	if err := s.DeleteSubject(ctx, "beta"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSubject(ctx, "beta"); err != storage.ErrNotFound {
		t.Fatalf("expected deleted, got %v", err)
	}
}

func TestPoolAndScheduleAndSettings(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreatePool(ctx, keypoolFixture()); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	pools, err := s.ListPools(ctx)
	if err != nil || len(pools) != 1 {
		t.Fatalf("expected 1 pool, got %d (%v)", len(pools), err)
	}

	if _, err := s.CreateSchedule(ctx, scheduleFixture()); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	scs, err := s.ListSchedules(ctx)
	if err != nil || len(scs) != 1 {
		t.Fatalf("expected 1 schedule, got %d (%v)", len(scs), err)
	}

	if err := s.PutSettings(ctx, map[string]string{"theme": "dark"}); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	got, err := s.GetSettings(ctx)
	if err != nil || got["theme"] != "dark" {
		t.Fatalf("unexpected settings: %+v / %v", got, err)
	}
}
