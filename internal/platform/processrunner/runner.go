// Package processrunner is a reference LaunchCollaborator built on
// os/exec and gopsutil. It stands in for the real, OS-specific
// game-client injection collaborator, which this repository deliberately
// does not carry: it launches an
// arbitrary executable, tracks its liveness and exit code, and relays
// transport messages over the child's stdin. It exists so the core can be
// exercised end-to-end by tests and by cmd/orchestratord without the real
// client.
package processrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// Handle is the processrunner ProcessHandle: one running (or exited) child
// process plus the pipe used to relay transport messages to it.
type Handle struct {
	cmd *exec.Cmd
	pid int32

	stdin io.WriteCloser
	mu    sync.Mutex // guards stdin writes

	exited   int32
	exitCode int32
	waitDone chan struct{}
}

func (h *Handle) Exited() bool  { return atomic.LoadInt32(&h.exited) != 0 }
func (h *Handle) ExitCode() int { return int(atomic.LoadInt32(&h.exitCode)) }

// PrimaryWindowHandle has no meaning for a plain child process; real window
// tracking belongs to the OS-specific collaborator this package stands in
// for.
func (h *Handle) PrimaryWindowHandle() uintptr { return 0 }

var _ collaborator.ProcessHandle = (*Handle)(nil)

// Runner is the reference LaunchCollaborator.
type Runner struct {
	log    *logger.Logger
	frames frameSink
}

// New constructs a Runner.
func New(log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("processrunner")
	}
	return &Runner{log: log}
}

// Launch starts cfg.Executable with cfg.Arguments and begins tracking it.
// cfg.CredentialName/CredentialPayload and cfg.HostAnnounceToken are
// handed to the child through its environment, the side-band that lets
// the runtime learn its reply token.
func (r *Runner) Launch(ctx context.Context, cfg collaborator.LaunchConfig) (collaborator.ProcessHandle, error) {
	cmd := exec.Command(cfg.Executable, cfg.Arguments...)
	cmd.Env = append(cmd.Env,
		"ORCHESTRATOR_CREDENTIAL_NAME="+cfg.CredentialName,
		"ORCHESTRATOR_CREDENTIAL_PAYLOAD="+cfg.CredentialPayload,
		"ORCHESTRATOR_HOST_TOKEN="+cfg.HostAnnounceToken,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("processrunner: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("processrunner: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("processrunner: start %q: %w", cfg.Executable, err)
	}

	h := &Handle{
		cmd:      cmd,
		pid:      int32(cmd.Process.Pid),
		stdin:    stdin,
		waitDone: make(chan struct{}),
	}

	go r.drainStdout(cfg.Executable, stdout)
	go r.awaitExit(h)

	r.log.WithField("executable", cfg.Executable).WithField("pid", h.pid).Info("launched subject process")
	return h, nil
}

func (r *Runner) drainStdout(executable string, stdout io.ReadCloser) {
	defer stdout.Close()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if frame, ok := parseFrameLine(line); ok {
			r.dispatchFrame(context.Background(), frame)
			continue
		}
		r.log.WithField("executable", executable).WithField("line", line).Debug("subject stdout")
	}
}

func (r *Runner) awaitExit(h *Handle) {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	atomic.StoreInt32(&h.exitCode, int32(code))
	atomic.StoreInt32(&h.exited, 1)
	close(h.waitDone)
}

// Terminate sends SIGTERM and waits up to gracefulTimeout for cmd.Wait
// to observe the exit before escalating to SIGKILL.
func (r *Runner) Terminate(ctx context.Context, handle collaborator.ProcessHandle, gracefulTimeout time.Duration) error {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return fmt.Errorf("processrunner: terminate: not a processrunner handle")
	}
	if h.Exited() {
		return nil
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(gracefulTimeout)
	defer timer.Stop()
	select {
	case <-h.waitDone:
		return nil
	case <-timer.C:
		_ = h.cmd.Process.Signal(syscall.SIGKILL)
		select {
		case <-h.waitDone:
		case <-ctx.Done():
		}
		return nil
	case <-ctx.Done():
		_ = h.cmd.Process.Signal(syscall.SIGKILL)
		return ctx.Err()
	}
}

// ShowWindow, HideWindow and IsWindowVisible have no meaning for a plain
// child process; they are no-ops here and exist only so Runner satisfies
// LaunchCollaborator for end-to-end tests. The real collaborator performs
// the Win32 window manipulation the in-game client requires.
func (r *Runner) ShowWindow(ctx context.Context, handle collaborator.ProcessHandle, position *subject.WindowPosition) error {
	return nil
}

func (r *Runner) HideWindow(ctx context.Context, handle collaborator.ProcessHandle) error {
	return nil
}

func (r *Runner) IsWindowVisible(ctx context.Context, handle collaborator.ProcessHandle) (bool, error) {
	return false, nil
}

// SendMessage relays a transport frame to the child over its stdin as one
// newline-terminated "type payload" line, the narrowest wire form that lets
// a child script distinguish message types without committing this
// reference adapter to any particular serialization.
func (r *Runner) SendMessage(ctx context.Context, handle collaborator.ProcessHandle, messageType string, payload string) error {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return fmt.Errorf("processrunner: sendMessage: not a processrunner handle")
	}
	if h.Exited() {
		return fmt.Errorf("processrunner: sendMessage: process has exited")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.stdin, "%s %s\n", messageType, payload)
	return err
}

// Alive double-checks a handle's liveness against the OS process table via
// gopsutil, independent of cmd.Wait having returned: a belt-and-braces
// check for a child that was reparented or whose Wait goroutine is
// starved. Nothing outside this package's tests calls it.
func (r *Runner) Alive(h *Handle) bool {
	if h.Exited() {
		return false
	}
	exists, err := gopsprocess.PidExists(h.pid)
	if err != nil {
		return true
	}
	return exists
}

var _ collaborator.LaunchCollaborator = (*Runner)(nil)
