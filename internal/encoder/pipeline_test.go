package encoder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
)

type fakeCapture struct {
	mu        sync.Mutex
	size      Size
	failNext  bool
	captureN  int
}

func newFakeCapture(size Size) *fakeCapture {
	return &fakeCapture{size: size}
}

func (f *fakeCapture) TargetSize() (Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, nil
}

func (f *fakeCapture) setSize(size Size) {
	f.mu.Lock()
	f.size = size
	f.mu.Unlock()
}

func (f *fakeCapture) Capture() (*CapturedFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureN++
	if f.failNext {
		f.failNext = false
		return nil, errors.New("simulated capture failure")
	}
	pix := make([]byte, f.size.Width*f.size.Height*4)
	return &CapturedFrame{Width: f.size.Width, Height: f.size.Height, Pix: pix}, nil
}

type fakeCodec struct {
	mu             sync.Mutex
	reconfigureN   int
	lastSize       Size
	needMoreInputN int
}

func (f *fakeCodec) Reconfigure(size Size) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconfigureN++
	f.lastSize = size
	return nil
}

func (f *fakeCodec) Encode(frame *CapturedFrame, pts int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.needMoreInputN > 0 {
		f.needMoreInputN--
		return nil, ErrNeedMoreInput
	}
	return []byte{byte(pts), byte(frame.Width), byte(frame.Height)}, nil
}

func (f *fakeCodec) Close() {}

func TestPipelineEmitsPacketsAtConfiguredSize(t *testing.T) {
	capture := newFakeCapture(Size{Width: 1920, Height: 1080})
	codec := &fakeCodec{}
	log := agentlog.New("encoder-test", nil)

	p := New(capture, codec, log)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(time.Second)

	select {
	case packet := <-p.Frames():
		if len(packet) == 0 {
			t.Fatal("expected non-empty packet")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first packet")
	}

	codec.mu.Lock()
	reconfigures := codec.reconfigureN
	lastSize := codec.lastSize
	codec.mu.Unlock()
	if reconfigures != 1 || lastSize != (Size{Width: 1920, Height: 1080}) {
		t.Fatalf("expected exactly one reconfigure to 1920x1080, got %d to %+v", reconfigures, lastSize)
	}
}

func TestPipelineReusesLastFrameOnCaptureFailure(t *testing.T) {
	capture := newFakeCapture(Size{Width: 640, Height: 480})
	codec := &fakeCodec{}
	log := agentlog.New("encoder-test", nil)

	p := New(capture, codec, log)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(time.Second)

	// Let the first (reconfigure) and second (real) cycle complete, then
	// force the next capture to fail — the pipeline must reuse the last
	// successful frame rather than send nothing or crash.
	<-p.Frames()

	capture.mu.Lock()
	capture.failNext = true
	capture.mu.Unlock()

	select {
	case packet := <-p.Frames():
		if len(packet) == 0 {
			t.Fatal("expected reused-frame packet, got empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet after simulated capture failure")
	}
}

func TestPipelineReconfiguresOnResolutionChange(t *testing.T) {
	capture := newFakeCapture(Size{Width: 1920, Height: 1080})
	codec := &fakeCodec{}
	log := agentlog.New("encoder-test", nil)

	p := New(capture, codec, log)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(time.Second)

	<-p.Frames() // first real packet at 1920x1080

	capture.setSize(Size{Width: 1080, Height: 1920})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		codec.mu.Lock()
		reconfigures, lastSize := codec.reconfigureN, codec.lastSize
		codec.mu.Unlock()
		if reconfigures == 2 && lastSize == (Size{Width: 1080, Height: 1920}) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline never reconfigured to the new portrait size")
}
