package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/forgefleet/orchestrator/internal/bus"
	"github.com/forgefleet/orchestrator/internal/config"
	"github.com/forgefleet/orchestrator/internal/domain/event"
	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	keypoolsvc "github.com/forgefleet/orchestrator/internal/keypool"
	"github.com/forgefleet/orchestrator/internal/statestore"
	"github.com/forgefleet/orchestrator/internal/storage/memory"
)

func fastTuning() config.Tuning {
	return config.Tuning{
		HeartbeatTimeout:      5 * time.Millisecond,
		MaxMissedHeartbeats:   2,
		HeartbeatPollInterval: 10 * time.Millisecond,
		MonitorPollInterval:   5 * time.Millisecond,
		MaxCrashRetries:       3,
		CrashBackoff:          5 * time.Millisecond,
		GracefulStopTimeout:   20 * time.Millisecond,
		LaunchReadyTimeout:    200 * time.Millisecond,
		ScheduleTick:          time.Second,
		LogRingCapacity:       100,
		EventEvictionLimit:    1000,
	}
}

func newHarness(t *testing.T, launcher *fakeLauncher) (*Supervisor, *memory.Store, *statestore.Store, *bus.Bus) {
	t.Helper()
	store := memory.New()
	states := statestore.New()
	b := bus.New(100, nil)
	keys := keypoolsvc.New(store, keypoolsvc.NewLocalCursorStore(store))
	sup := New(store, states, keys, launcher, b, nil, fastTuning(), nil)
	return sup, store, states, b
}

func seedSubject(t *testing.T, store *memory.Store, states *statestore.Store, name, poolName string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateSubject(ctx, subject.Subject{
		Name:        name,
		Executable:  "botclient.exe",
		KeyPoolName: poolName,
	})
	if err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	states.Register(name)
	states.TryTransition(name, runtime.Starting)
}

func awaitState(t *testing.T, states *statestore.Store, name string, want runtime.State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if snap, ok := states.Snapshot(name); ok && snap.State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	snap, _ := states.Snapshot(name)
	t.Fatalf("timed out waiting for %s to reach %s, last seen %s", name, want, snap.State)
}

func TestHappyLaunchThenForcedStopOnMissedHeartbeats(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, store, states, b := newHarness(t, launcher)
	seedSubject(t, store, states, "A", "")

	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx, "A")

	awaitState(t, states, "A", runtime.Running, time.Second)
	awaitState(t, states, "A", runtime.Stopped, time.Second)

	if launcher.launchCount() != 1 {
		t.Fatalf("expected exactly one launch, got %d", launcher.launchCount())
	}

	sawRunning := false
	sawStopped := false
	timeout := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case e := <-sub.Events:
			if e.Kind != event.KindSubjectStateChanged || len(e.Subjects) == 0 {
				continue
			}
			switch e.Subjects[0].State.State {
			case runtime.Running:
				sawRunning = true
			case runtime.Stopped:
				sawStopped = true
			}
		case <-timeout:
			break drain
		}
	}
	if !sawRunning || !sawStopped {
		t.Fatalf("expected to observe Running then Stopped, sawRunning=%v sawStopped=%v", sawRunning, sawStopped)
	}
}

func TestHeartbeatIngestionPreventsForcedStop(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, store, states, _ := newHarness(t, launcher)
	seedSubject(t, store, states, "A", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx, "A")

	awaitState(t, states, "A", runtime.Running, time.Second)

	stop := time.After(60 * time.Millisecond)
	ticker := time.NewTicker(3 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			states.Update("A", func(rs *runtime.RuntimeState) {
				rs.LastHeartbeat = time.Now()
				rs.MissedHeartbeats = 0
			})
		case <-stop:
			break loop
		}
	}

	snap, ok := states.Snapshot("A")
	if !ok || snap.State != runtime.Running {
		t.Fatalf("expected Subject to remain Running under steady heartbeats, got %+v ok=%v", snap, ok)
	}

	if err := sup.RequestStop(context.Background(), "A", false); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	awaitState(t, states, "A", runtime.Stopped, time.Second)
}

func TestCrashRecoveryWithinBudget(t *testing.T) {
	launcher := &fakeLauncher{exitAfter: 5 * time.Millisecond, exitCode: 1, failLaunches: 2}
	sup, store, states, _ := newHarness(t, launcher)
	seedSubject(t, store, states, "B", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx, "B")

	awaitState(t, states, "B", runtime.Running, 2*time.Second)
	// Let the heartbeat clock settle without forcing another stop: the
	// third launch never exits, so it should stay Running.
	time.Sleep(20 * time.Millisecond)
	snap, ok := states.Snapshot("B")
	if !ok || snap.State != runtime.Running {
		t.Fatalf("expected final state Running after crash retries succeed, got %+v ok=%v", snap, ok)
	}
	if snap.CrashCount != 0 {
		t.Fatalf("expected crash-count zeroed on successful Running transition, got %d", snap.CrashCount)
	}
	if launcher.launchCount() != 3 {
		t.Fatalf("expected 3 total launch attempts, got %d", launcher.launchCount())
	}

	sub, err := store.GetSubject(context.Background(), "B")
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if sub.Counters.Crashes != 2 {
		t.Fatalf("expected 2 persisted crashes, got %d", sub.Counters.Crashes)
	}

	if err := sup.RequestStop(context.Background(), "B", true); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
}

func TestCrashExhaustionDisablesSchedule(t *testing.T) {
	launcher := &fakeLauncher{exitAfter: 5 * time.Millisecond, exitCode: 1, failLaunches: 1000}
	sup, store, states, _ := newHarness(t, launcher)
	ctx := context.Background()
	_, err := store.CreateSubject(ctx, subject.Subject{
		Name:            "C",
		Executable:      "botclient.exe",
		ScheduleName:    "overnight",
		ScheduleEnabled: true,
	})
	if err != nil {
		t.Fatalf("seed subject: %v", err)
	}
	states.Register("C")
	states.TryTransition("C", runtime.Starting)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(runCtx, "C")

	awaitState(t, states, "C", runtime.Stopped, 2*time.Second)

	snap, _ := states.Snapshot("C")
	if snap.Status == "" {
		t.Fatal("expected a status message on crash exhaustion")
	}

	sub, err := store.GetSubject(context.Background(), "C")
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if sub.ScheduleEnabled {
		t.Fatal("expected schedule-enabled to be durably cleared after crash exhaustion")
	}
	if launcher.launchCount() != 3 { // exhausts exactly at MaxCrashRetries(3) launches
		t.Fatalf("expected 3 total launch attempts, got %d", launcher.launchCount())
	}
}

func TestKeyPoolRoundRobinAndRotation(t *testing.T) {
	launcher := &fakeLauncher{}
	sup, store, states, _ := newHarness(t, launcher)
	ctx := context.Background()

	_, err := store.CreatePool(ctx, keypool.Pool{Name: "P", Credentials: []keypool.Credential{
		{Name: "k1"}, {Name: "k2"}, {Name: "k3"},
	}})
	if err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	for _, name := range []string{"S1", "S2", "S3"} {
		seedSubject(t, store, states, name, "P")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(runCtx, "S1")
	go sup.Run(runCtx, "S2")
	go sup.Run(runCtx, "S3")

	awaitState(t, states, "S1", runtime.Running, time.Second)
	awaitState(t, states, "S2", runtime.Running, time.Second)
	awaitState(t, states, "S3", runtime.Running, time.Second)

	assigned := map[string]bool{}
	for _, name := range []string{"S1", "S2", "S3"} {
		snap, _ := states.Snapshot(name)
		if snap.AssignedKeyName == "" {
			t.Fatalf("expected %s to hold a credential", name)
		}
		if assigned[snap.AssignedKeyName] {
			t.Fatalf("credential %s assigned to more than one subject", snap.AssignedKeyName)
		}
		assigned[snap.AssignedKeyName] = true
	}
	if len(assigned) != 3 {
		t.Fatalf("expected all 3 credentials in use, got %v", assigned)
	}

	s3Snap, _ := states.Snapshot("S3")
	s2Snap, _ := states.Snapshot("S2")
	held := s2Snap.AssignedKeyName

	if err := sup.RequestStop(ctx, "S2", false); err != nil {
		t.Fatalf("stop S2: %v", err)
	}
	awaitState(t, states, "S2", runtime.Stopped, time.Second)

	seedSubject(t, store, states, "S4", "P")
	go sup.Run(runCtx, "S4")
	awaitState(t, states, "S4", runtime.Running, time.Second)

	s4Snap, _ := states.Snapshot("S4")
	if s4Snap.AssignedKeyName != held {
		t.Fatalf("expected S4 to acquire %s, the credential S2 released, got %s", held, s4Snap.AssignedKeyName)
	}

	// rotateKey(S1) clears S1's own assignment before acquiring, so the
	// only free credential is the one neither S3 nor S4 holds.
	states.Update("S1", func(rs *runtime.RuntimeState) { rs.AssignedKeyName = "" })

	freeBefore := map[string]bool{"k1": true, "k2": true, "k3": true}
	delete(freeBefore, s3Snap.AssignedKeyName)
	delete(freeBefore, s4Snap.AssignedKeyName)
	var onlyFree string
	for k := range freeBefore {
		onlyFree = k
	}

	inUse := states.AssignedKeyNames("P", func(n string) string {
		sub, err := store.GetSubject(ctx, n)
		if err != nil {
			return ""
		}
		return sub.KeyPoolName
	})
	keys := keypoolsvc.New(store, keypoolsvc.NewLocalCursorStore(store))
	cred, ok, err := keys.Acquire(ctx, "P", inUse)
	if err != nil || !ok {
		t.Fatalf("acquire for rotation: ok=%v err=%v", ok, err)
	}
	if cred.Name != onlyFree {
		t.Fatalf("expected rotateKey to land on the only free credential %s, got %s", onlyFree, cred.Name)
	}
}
