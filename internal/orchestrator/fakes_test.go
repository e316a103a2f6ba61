package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
)

type fakeHandle struct {
	exited int32
}

func (h *fakeHandle) Exited() bool  { return atomic.LoadInt32(&h.exited) != 0 }
func (h *fakeHandle) ExitCode() int { return 0 }
func (h *fakeHandle) PrimaryWindowHandle() uintptr { return 0 }

// fakeLauncher never exits on its own; tests drive Subjects to Running and
// stop them explicitly through the Facade.
type fakeLauncher struct {
	launches int32
}

func (f *fakeLauncher) Launch(ctx context.Context, cfg collaborator.LaunchConfig) (collaborator.ProcessHandle, error) {
	atomic.AddInt32(&f.launches, 1)
	return &fakeHandle{}, nil
}

func (f *fakeLauncher) Terminate(ctx context.Context, handle collaborator.ProcessHandle, gracefulTimeout time.Duration) error {
	if fh, ok := handle.(*fakeHandle); ok {
		atomic.StoreInt32(&fh.exited, 1)
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
	return nil
}
