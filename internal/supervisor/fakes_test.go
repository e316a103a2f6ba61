package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
)

type fakeHandle struct {
	exited   int32
	exitCode int32
}

func (h *fakeHandle) Exited() bool    { return atomic.LoadInt32(&h.exited) != 0 }
func (h *fakeHandle) ExitCode() int   { return int(atomic.LoadInt32(&h.exitCode)) }
func (h *fakeHandle) PrimaryWindowHandle() uintptr { return 0 }

func (h *fakeHandle) setExited(code int) {
	atomic.StoreInt32(&h.exitCode, int32(code))
	atomic.StoreInt32(&h.exited, 1)
}

// fakeLauncher is a collaborator.LaunchCollaborator controllable by tests.
// exitAfter, when non-zero, makes every launched handle self-report exited
// with exitCode after that duration, simulating a crashing process.
type fakeLauncher struct {
	mu         sync.Mutex
	launches   int
	terminated []string
	exitAfter  time.Duration
	exitCode   int
	launchErr  error

	// failLaunches makes the first N launch attempts self-report exited
	// with exitCode after exitAfter; attempts beyond N run indefinitely.
	failLaunches int

	sentMessages []string
}

func (f *fakeLauncher) Launch(ctx context.Context, cfg collaborator.LaunchConfig) (collaborator.ProcessHandle, error) {
	f.mu.Lock()
	f.launches++
	attempt := f.launches
	f.mu.Unlock()

	if f.launchErr != nil {
		return nil, f.launchErr
	}

	h := &fakeHandle{}
	if attempt <= f.failLaunches && f.exitAfter > 0 {
		go func() {
			time.Sleep(f.exitAfter)
			h.setExited(f.exitCode)
		}()
	}
	return h, nil
}

func (f *fakeLauncher) Terminate(ctx context.Context, handle collaborator.ProcessHandle, gracefulTimeout time.Duration) error {
	f.mu.Lock()
	f.terminated = append(f.terminated, "terminated")
	f.mu.Unlock()
	if fh, ok := handle.(*fakeHandle); ok {
		fh.setExited(0)
	}
	return nil
}

func (f *fakeLauncher) ShowWindow(ctx context.Context, handle collaborator.ProcessHandle, position *subject.WindowPosition) error {
	return nil
}

func (f *fakeLauncher) HideWindow(ctx context.Context, handle collaborator.ProcessHandle) error {
	return nil
}

func (f *fakeLauncher) IsWindowVisible(ctx context.Context, handle collaborator.ProcessHandle) (bool, error) {
	return false, nil
}

func (f *fakeLauncher) SendMessage(ctx context.Context, handle collaborator.ProcessHandle, messageType string, payload string) error {
	f.mu.Lock()
	f.sentMessages = append(f.sentMessages, messageType)
	f.mu.Unlock()
	return nil
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}
