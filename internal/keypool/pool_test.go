package keypool

import (
	"context"
	"testing"

	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/storage/memory"
)

func seedPool(t *testing.T, store *memory.Store, name string, names ...string) {
	t.Helper()
	creds := make([]keypool.Credential, len(names))
	for i, n := range names {
		creds[i] = keypool.Credential{Name: n, Payload: "payload-" + n}
	}
	if _, err := store.CreatePool(context.Background(), keypool.Pool{Name: name, Credentials: creds}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
}

func TestAcquireRoundRobinsAndSkipsInUse(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedPool(t, store, "p1", "a", "b", "c")
	svc := New(store, NewLocalCursorStore(store))

	c1, ok, err := svc.Acquire(ctx, "p1", nil)
	if err != nil || !ok {
		t.Fatalf("acquire 1: ok=%v err=%v", ok, err)
	}
	c2, ok, err := svc.Acquire(ctx, "p1", nil)
	if err != nil || !ok {
		t.Fatalf("acquire 2: ok=%v err=%v", ok, err)
	}
	if c1.Name == c2.Name {
		t.Fatalf("expected distinct credentials, got %s twice", c1.Name)
	}

	inUse := map[string]bool{c1.Name: true, c2.Name: true}
	c3, ok, err := svc.Acquire(ctx, "p1", inUse)
	if err != nil || !ok {
		t.Fatalf("acquire 3: ok=%v err=%v", ok, err)
	}
	if c3.Name == c1.Name || c3.Name == c2.Name {
		t.Fatalf("expected the only remaining credential, got %s", c3.Name)
	}

	inUse[c3.Name] = true
	_, ok, err = svc.Acquire(ctx, "p1", inUse)
	if err != nil {
		t.Fatalf("acquire 4: unexpected error %v", err)
	}
	if ok {
		t.Fatal("expected no credential available once all three are in use")
	}
}

func TestAcquireSkipsHeldCredentials(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedPool(t, store, "p1", "a", "b")
	svc := New(store, NewLocalCursorStore(store))

	if err := svc.Hold(ctx, "p1", "a"); err != nil {
		t.Fatalf("hold: %v", err)
	}

	for i := 0; i < 3; i++ {
		c, ok, err := svc.Acquire(ctx, "p1", nil)
		if err != nil || !ok {
			t.Fatalf("acquire: ok=%v err=%v", ok, err)
		}
		if c.Name != "b" {
			t.Fatalf("expected held credential a to be skipped, got %s", c.Name)
		}
	}
}

func TestUnholdRestoresEligibility(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedPool(t, store, "p1", "a")
	svc := New(store, NewLocalCursorStore(store))

	if err := svc.Hold(ctx, "p1", "a"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, ok, _ := svc.Acquire(ctx, "p1", nil); ok {
		t.Fatal("expected no credential while held")
	}
	if err := svc.Unhold(ctx, "p1", "a"); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if _, ok, err := svc.Acquire(ctx, "p1", nil); err != nil || !ok {
		t.Fatalf("expected credential after unhold: ok=%v err=%v", ok, err)
	}
}

func TestAcquireMissingPoolIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(store, NewLocalCursorStore(store))

	_, ok, err := svc.Acquire(ctx, "ghost", nil)
	if err != nil {
		t.Fatalf("expected missing pool to be treated as unavailable, not an error: %v", err)
	}
	if ok {
		t.Fatal("expected no credential from a missing pool")
	}
}

func TestHoldUnknownCredentialReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedPool(t, store, "p1", "a")
	svc := New(store, NewLocalCursorStore(store))

	if err := svc.Hold(ctx, "p1", "ghost"); err == nil {
		t.Fatal("expected an error for an unknown credential name")
	}
}
