package processrunner

import (
	"context"
	"strings"
	"sync"

	"github.com/forgefleet/orchestrator/internal/collaborator"
)

// frameMarker prefixes a child stdout line that carries a transport frame
// rather than ordinary output. Fields after the marker are separated by
// the same unit separator the host uses for outbound multi-arg payloads:
//
//	FRAME <US> senderToken <US> function [<US> arg]...
const (
	frameMarker    = "FRAME"
	fieldSeparator = "\x1f"
)

// Transport adapts the Runner's child-stdout frame lines to the
// collaborator.MessageTransport contract: Listen registers a FrameHandler
// that receives every parsed frame from every child this Runner launched,
// then blocks until ctx ends.
type Transport struct {
	r *Runner
}

// Transport returns the MessageTransport view of this Runner.
func (r *Runner) Transport() *Transport { return &Transport{r: r} }

// Listen registers handler and blocks until ctx is done. Only one listener
// is supported at a time; a second Listen replaces the first.
func (t *Transport) Listen(ctx context.Context, handler collaborator.FrameHandler) error {
	t.r.setFrameHandler(handler)
	<-ctx.Done()
	t.r.setFrameHandler(nil)
	return nil
}

type frameSink struct {
	mu      sync.RWMutex
	handler collaborator.FrameHandler
}

func (r *Runner) setFrameHandler(h collaborator.FrameHandler) {
	r.frames.mu.Lock()
	r.frames.handler = h
	r.frames.mu.Unlock()
}

// parseFrameLine decodes one stdout line into a Frame. ok is false when the
// line does not carry the frame marker or is missing the token/function
// fields, in which case the caller treats it as plain output.
func parseFrameLine(line string) (collaborator.Frame, bool) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < 3 || fields[0] != frameMarker {
		return collaborator.Frame{}, false
	}
	return collaborator.Frame{
		SenderToken: fields[1],
		Function:    fields[2],
		Args:        fields[3:],
	}, true
}

func (r *Runner) dispatchFrame(ctx context.Context, frame collaborator.Frame) {
	r.frames.mu.RLock()
	handler := r.frames.handler
	r.frames.mu.RUnlock()
	if handler == nil {
		return
	}
	if err := handler.HandleFrame(ctx, frame); err != nil {
		r.log.WithField("function", frame.Function).WithField("err", err).Warn("frame handler failed")
	}
}
