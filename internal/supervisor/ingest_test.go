package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/forgefleet/orchestrator/internal/collaborator"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames []collaborator.Frame
}

func (r *recordingHandler) HandleFrame(_ context.Context, frame collaborator.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingHandler) snapshot() []collaborator.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]collaborator.Frame(nil), r.frames...)
}

type scriptedTransport struct {
	frames []collaborator.Frame
}

func (t *scriptedTransport) Listen(ctx context.Context, handler collaborator.FrameHandler) error {
	for _, f := range t.frames {
		if err := handler.HandleFrame(ctx, f); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func TestIngestorPreservesFrameOrder(t *testing.T) {
	frames := []collaborator.Frame{
		{SenderToken: "t1", Function: collaborator.FuncHeartBeat},
		{SenderToken: "t1", Function: collaborator.FuncUpdateStatus, Args: []string{"in town"}},
		{SenderToken: "t1", Function: collaborator.FuncUpdateRuns},
	}
	sink := &recordingHandler{}
	in := NewIngestor(&scriptedTransport{frames: frames}, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) < len(frames) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	got := sink.snapshot()
	if len(got) != len(frames) {
		t.Fatalf("expected %d dispatched frames, got %d", len(frames), len(got))
	}
	for i, f := range frames {
		if got[i].Function != f.Function {
			t.Fatalf("frame %d: expected %s, got %s", i, f.Function, got[i].Function)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := in.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestIngestorEnqueueNeverBlocks(t *testing.T) {
	// No dispatcher running at all: frames pushed by the transport side
	// must still be accepted immediately.
	in := NewIngestor(&scriptedTransport{}, &recordingHandler{}, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			_ = in.HandleFrame(context.Background(), collaborator.Frame{Function: collaborator.FuncHeartBeat})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked with no dispatcher draining")
	}
}

func TestIngestorStopDropsQueuedFrames(t *testing.T) {
	sink := &recordingHandler{}
	in := NewIngestor(&scriptedTransport{}, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := in.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Frames arriving after Stop are discarded, not queued forever.
	_ = in.HandleFrame(context.Background(), collaborator.Frame{Function: collaborator.FuncHeartBeat})
	if n := len(sink.snapshot()); n != 0 {
		t.Fatalf("expected no dispatched frames after Stop, got %d", n)
	}
}
