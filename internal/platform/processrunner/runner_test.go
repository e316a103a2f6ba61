package processrunner

import (
	"context"
	"testing"
	"time"

	"github.com/forgefleet/orchestrator/internal/collaborator"
)

func TestLaunchTracksCleanExit(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !handle.Exited() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !handle.Exited() {
		t.Fatal("expected handle to report Exited")
	}
	if handle.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", handle.ExitCode())
	}
}

func TestLaunchTracksNonZeroExit(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "exit 7"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !handle.Exited() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if handle.ExitCode() != 7 {
		t.Fatalf("expected exit code 7, got %d", handle.ExitCode())
	}
}

func TestTerminateKillsLongRunningProcess(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	start := time.Now()
	if err := r.Terminate(context.Background(), handle, 50*time.Millisecond); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Terminate took too long: %s", elapsed)
	}
	if !handle.Exited() {
		t.Fatal("expected handle to report Exited after Terminate")
	}
}

func TestTerminateIsIdempotentAfterExit(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !handle.Exited() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := r.Terminate(context.Background(), handle, 50*time.Millisecond); err != nil {
		t.Fatalf("Terminate on already-exited process: %v", err)
	}
}

func TestSendMessageFailsAfterExit(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !handle.Exited() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := r.SendMessage(context.Background(), handle, collaborator.MessageTypeNudge, "tok"); err == nil {
		t.Fatal("expected SendMessage to fail against an exited process")
	}
}

func TestSendMessageWritesToStdin(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "read line; exit 0"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if err := r.SendMessage(context.Background(), handle, collaborator.MessageTypeNudge, "tok-123"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !handle.Exited() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !handle.Exited() {
		t.Fatal("expected process to exit after reading the relayed message")
	}
}

func TestAliveReflectsOSProcessTable(t *testing.T) {
	r := New(nil)
	handle, err := r.Launch(context.Background(), collaborator.LaunchConfig{
		Executable: "sh",
		Arguments:  []string{"-c", "sleep 30"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	h, ok := handle.(*Handle)
	if !ok {
		t.Fatalf("expected *Handle, got %T", handle)
	}
	if !r.Alive(h) {
		t.Fatal("expected Alive to report true for a running process")
	}

	if err := r.Terminate(context.Background(), handle, 50*time.Millisecond); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if r.Alive(h) {
		t.Fatal("expected Alive to report false after Terminate")
	}
}
