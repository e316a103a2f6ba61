package statestore

import (
	"sync"
	"testing"

	"github.com/forgefleet/orchestrator/internal/domain/runtime"
)

func TestRegisterStartsStoppedAndIsIdempotent(t *testing.T) {
	s := New()
	s.Register("bot1")
	s.Register("bot1")

	snap, ok := s.Snapshot("bot1")
	if !ok {
		t.Fatal("expected bot1 to be registered")
	}
	if snap.State != runtime.Stopped {
		t.Fatalf("expected Stopped, got %s", snap.State)
	}
}

func TestTryTransitionEnforcesTable(t *testing.T) {
	s := New()
	s.Register("bot1")

	if s.TryTransition("bot1", runtime.Running) {
		t.Fatal("expected Stopped->Running to be rejected")
	}
	if !s.TryTransition("bot1", runtime.Starting) {
		t.Fatal("expected Stopped->Starting to succeed")
	}
	if !s.TryTransition("bot1", runtime.Running) {
		t.Fatal("expected Starting->Running to succeed")
	}
	if s.TryTransition("bot1", runtime.Starting) {
		t.Fatal("expected Running->Starting to be rejected")
	}
}

func TestTryTransitionUnknownSubject(t *testing.T) {
	s := New()
	if s.TryTransition("ghost", runtime.Starting) {
		t.Fatal("expected unregistered subject to reject every transition")
	}
}

func TestUpdateMutatesUnderLock(t *testing.T) {
	s := New()
	s.Register("bot1")

	ok := s.Update("bot1", func(rs *runtime.RuntimeState) {
		rs.CrashCount++
		rs.AssignedKeyName = "key-a"
	})
	if !ok {
		t.Fatal("expected Update on registered subject to succeed")
	}

	snap, _ := s.Snapshot("bot1")
	if snap.CrashCount != 1 || snap.AssignedKeyName != "key-a" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if s.Update("ghost", func(rs *runtime.RuntimeState) {}) {
		t.Fatal("expected Update on unregistered subject to fail")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	s := New()
	s.Register("bot1")
	s.Unregister("bot1")

	if _, ok := s.Snapshot("bot1"); ok {
		t.Fatal("expected bot1 to be gone after Unregister")
	}
}

func TestRenamePreservesState(t *testing.T) {
	s := New()
	s.Register("bot1")
	s.TryTransition("bot1", runtime.Starting)
	s.Rename("bot1", "bot2")

	if _, ok := s.Snapshot("bot1"); ok {
		t.Fatal("expected old name to be gone")
	}
	snap, ok := s.Snapshot("bot2")
	if !ok {
		t.Fatal("expected new name to carry the entry")
	}
	if snap.State != runtime.Starting {
		t.Fatalf("expected Starting to survive rename, got %s", snap.State)
	}
}

func TestSnapshotAllReturnsEveryEntry(t *testing.T) {
	s := New()
	s.Register("bot1")
	s.Register("bot2")

	all := s.SnapshotAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
}

func TestAssignedKeyNamesFiltersByPool(t *testing.T) {
	s := New()
	s.Register("bot1")
	s.Register("bot2")
	s.Update("bot1", func(rs *runtime.RuntimeState) { rs.AssignedKeyName = "key-a" })
	s.Update("bot2", func(rs *runtime.RuntimeState) { rs.AssignedKeyName = "key-b" })

	pools := map[string]string{"bot1": "poolA", "bot2": "poolB"}
	inUse := s.AssignedKeyNames("poolA", func(name string) string { return pools[name] })

	if len(inUse) != 1 || !inUse["key-a"] {
		t.Fatalf("expected only key-a in poolA, got %+v", inUse)
	}
}

func TestConcurrentUpdatesArePerSubjectSerialized(t *testing.T) {
	s := New()
	s.Register("bot1")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("bot1", func(rs *runtime.RuntimeState) { rs.CrashCount++ })
		}()
	}
	wg.Wait()

	snap, _ := s.Snapshot("bot1")
	if snap.CrashCount != 100 {
		t.Fatalf("expected 100 increments, got %d", snap.CrashCount)
	}
}
