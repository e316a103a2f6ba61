package supervisor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/forgefleet/orchestrator/internal/collaborator"
	core "github.com/forgefleet/orchestrator/internal/core/service"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// Ingestor decouples the MessageTransport's push source from frame
// dispatch: inbound frames enqueue onto an unbounded buffer and a single
// dispatcher drains it into the wrapped FrameHandler, so a bursting
// transport never blocks and never loses a frame. An
// optional rate limiter paces the drain; the buffer absorbs the burst.
type Ingestor struct {
	transport collaborator.MessageTransport
	handler   collaborator.FrameHandler
	limiter   *rate.Limiter
	log       *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []collaborator.Frame
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIngestor wraps handler behind an unbounded frame queue fed by
// transport. limiter may be nil to dispatch as fast as frames drain.
func NewIngestor(transport collaborator.MessageTransport, handler collaborator.FrameHandler, limiter *rate.Limiter, log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.NewDefault("transport-ingest")
	}
	in := &Ingestor{
		transport: transport,
		handler:   handler,
		limiter:   limiter,
		log:       log,
	}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Name satisfies internal/system.Service.
func (in *Ingestor) Name() string { return "transport-ingest" }

// Descriptor advertises this component's placement to internal/system's
// descriptor collection.
func (in *Ingestor) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "transport-ingest",
		Domain:       "orchestrator",
		Layer:        core.LayerTransport,
		Capabilities: []string{"frame-dispatch", "burst-buffering"},
	}
}

// HandleFrame satisfies collaborator.FrameHandler on the enqueue side:
// the transport's push goroutine returns immediately, whatever the
// dispatcher's pace.
func (in *Ingestor) HandleFrame(_ context.Context, frame collaborator.Frame) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.buf = append(in.buf, frame)
	in.cond.Signal()
	return nil
}

// Start begins listening on the transport and launches the dispatcher.
func (in *Ingestor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})

	go func() {
		if err := in.transport.Listen(runCtx, in); err != nil && runCtx.Err() == nil {
			in.log.WithField("err", err).Warn("message transport listener exited")
		}
	}()
	go in.dispatch(runCtx)
	return nil
}

// Stop terminates the dispatcher, dropping any still-queued frames, and
// waits for it to exit (bounded by ctx).
func (in *Ingestor) Stop(ctx context.Context) error {
	if in.cancel != nil {
		in.cancel()
	}
	in.mu.Lock()
	in.closed = true
	in.buf = nil
	in.cond.Signal()
	in.mu.Unlock()

	if in.done == nil {
		return nil
	}
	select {
	case <-in.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Ingestor) dispatch(ctx context.Context) {
	defer close(in.done)
	for {
		in.mu.Lock()
		for len(in.buf) == 0 && !in.closed {
			in.cond.Wait()
		}
		if in.closed {
			in.mu.Unlock()
			return
		}
		frame := in.buf[0]
		in.buf = in.buf[1:]
		in.mu.Unlock()

		if in.limiter != nil {
			if err := in.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := in.handler.HandleFrame(ctx, frame); err != nil {
			in.log.WithField("function", frame.Function).WithField("err", err).
				Warn("frame dispatch failed")
		}
	}
}

var _ collaborator.FrameHandler = (*Ingestor)(nil)
