// Package collaborator declares the narrow external contracts the core
// consumes: process creation/injection, the scripting-runtime message
// transport, the caller-entitlement check, and the clock. The core never
// defines their wire formats; it only calls them.
package collaborator

import (
	"context"
	"time"

	"github.com/forgefleet/orchestrator/internal/domain/runtime"
	"github.com/forgefleet/orchestrator/internal/domain/subject"
)

// LaunchConfig enumerates everything a LaunchCollaborator needs to start one
// subject.
type LaunchConfig struct {
	Executable        string
	Arguments         []string
	CredentialName    string
	CredentialPayload string
	WindowPosition    *subject.WindowPosition
	Visible           bool
	// HostAnnounceToken is the opaque reply address the launched runtime
	// should address transport messages to; the nudge's wire form is left
	// to this token, not prescribed further.
	HostAnnounceToken string
}

// ProcessHandle is what a LaunchCollaborator hands back from Launch. The
// core only ever stores it behind runtime.Handle and calls these methods
// plus Terminate/ShowWindow/HideWindow/SendMessage through the
// LaunchCollaborator that produced it.
type ProcessHandle interface {
	runtime.Handle
	PrimaryWindowHandle() uintptr
}

// LaunchCollaborator creates, injects, and controls one external process.
// It is entirely OS-specific; the core only depends on this interface.
type LaunchCollaborator interface {
	Launch(ctx context.Context, cfg LaunchConfig) (ProcessHandle, error)
	Terminate(ctx context.Context, handle ProcessHandle, gracefulTimeout time.Duration) error
	ShowWindow(ctx context.Context, handle ProcessHandle, position *subject.WindowPosition) error
	HideWindow(ctx context.Context, handle ProcessHandle) error
	IsWindowVisible(ctx context.Context, handle ProcessHandle) (bool, error)
	SendMessage(ctx context.Context, handle ProcessHandle, messageType string, payload string) error
}
