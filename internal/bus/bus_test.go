package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/forgefleet/orchestrator/internal/domain/event"
)

func TestSubscribeOrderingSnapshotThenIncrement(t *testing.T) {
	b := New(100, nil)

	sub := b.Subscribe()
	b.WithSnapshots(func(emit func(event.Event)) {
		emit(event.Event{Kind: event.KindSubjectsSnapshot})
		emit(event.Event{Kind: event.KindKeyPoolsSnapshot})
	})
	b.Publish(event.Event{Kind: event.KindSubjectStateChanged})

	want := []event.Kind{event.KindSubjectsSnapshot, event.KindKeyPoolsSnapshot, event.KindSubjectStateChanged}
	for i, w := range want {
		select {
		case e := <-sub.Events:
			if e.Kind != w {
				t.Fatalf("event %d: got %s want %s", i, e.Kind, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestUnsubscribeTerminatesStream(t *testing.T) {
	b := New(10, nil)
	sub := b.Subscribe()
	sub.Close()

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestLateJoinerDoesNotSeePriorEvents(t *testing.T) {
	b := New(10, nil)
	b.Publish(event.Event{Kind: event.KindLogLine, Content: "before"})

	sub := b.Subscribe()
	b.Publish(event.Event{Kind: event.KindLogLine, Content: "after"})

	select {
	case e := <-sub.Events:
		if e.Content != "after" {
			t.Fatalf("expected only post-join event, got %q", e.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestEvictionOnLag(t *testing.T) {
	b := New(10, nil)
	sub := b.Subscribe()

	for i := 0; i < EvictionThreshold+5; i++ {
		b.Publish(event.Event{Kind: event.KindLogLine})
	}

	select {
	case <-sub.Evicted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscriber to be evicted for lag")
	}
}

func TestMetricsHooksFireOnSubscribeUnsubscribeAndEviction(t *testing.T) {
	b := New(10, nil)

	var mu sync.Mutex
	var counts []int
	evictions := 0
	b.SetMetricsHooks(
		func(n int) {
			mu.Lock()
			counts = append(counts, n)
			mu.Unlock()
		},
		func() {
			mu.Lock()
			evictions++
			mu.Unlock()
		},
	)

	sub := b.Subscribe()
	mu.Lock()
	if len(counts) == 0 || counts[len(counts)-1] != 1 {
		t.Fatalf("expected subscriber count 1 after Subscribe, got %v", counts)
	}
	mu.Unlock()

	sub.Close()
	mu.Lock()
	if counts[len(counts)-1] != 0 {
		t.Fatalf("expected subscriber count 0 after Close, got %v", counts)
	}
	mu.Unlock()

	b.Subscribe()
	for i := 0; i < EvictionThreshold+5; i++ {
		b.Publish(event.Event{Kind: event.KindLogLine})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := evictions > 0
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if evictions == 0 {
		t.Fatal("expected eviction hook to fire")
	}
}

func TestRecentLogLinesFIFOTrim(t *testing.T) {
	b := New(3, nil)
	for i := 0; i < 5; i++ {
		b.Publish(event.Event{Kind: event.KindLogLine, Content: string(rune('a' + i))})
	}
	recent := b.RecentLogLines(0)
	if len(recent) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(recent))
	}
	if recent[len(recent)-1].Content != "e" {
		t.Fatalf("expected most recent entry last, got %q", recent[len(recent)-1].Content)
	}
}
