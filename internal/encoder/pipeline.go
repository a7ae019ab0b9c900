// Package encoder implements the Encoder Pipeline: a fixed-cadence task
// that captures the desktop, adapts to resolution changes, and submits
// frames to a codec, emitting opaque packets for the Relay Session to
// forward unmodified.
//
// Grounded on original_source/DeskServer/ScreenCaptureEncoder.{h,cpp}: a
// QTimer-driven captureAndEncode cycle (reconfigure-on-size-change, reuse
// the last successful capture rather than send nothing, drop cycles the
// codec can't yet consume). Platform capture is isolated behind the
// DesktopCapture interface and the codec behind Codec, per the spec's
// design note on confining platform coupling to narrow surfaces — the
// pipeline itself never touches a screen API or a codec library directly.
package encoder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
)

// FrameInterval is the fixed capture/encode cadence (20 fps, spec §4.5).
const FrameInterval = 50 * time.Millisecond

// GOPSize and MaxBFrames are codec tuning parameters a Codec
// implementation is expected to honor; kept here so Reconfigure callers
// and the codec agree on one source of truth.
const (
	GOPSize    = 10
	MaxBFrames = 1
)

// Size is a capture/encode target resolution.
type Size struct {
	Width  int
	Height int
}

// BitrateTarget applies the spec's width*height*2 heuristic.
func (s Size) BitrateTarget() int {
	return s.Width * s.Height * 2
}

// CapturedFrame is one raw BGRA frame from the desktop-duplication service.
type CapturedFrame struct {
	Width, Height int
	Pix           []byte // BGRA, stride = Width*4
}

// DesktopCapture is the platform capture surface. TargetSize reports the
// fixed resolution to encode at, derived from the primary display's
// current orientation; Capture grabs one frame.
type DesktopCapture interface {
	TargetSize() (Size, error)
	Capture() (*CapturedFrame, error)
}

// ErrNeedMoreInput signals that the codec consumed the frame but has no
// packet ready yet; the pipeline drops the cycle without logging an error.
var ErrNeedMoreInput = errors.New("encoder: codec needs more input")

// Codec is the video compression surface. Reconfigure is called whenever
// the target size changes, and must tear down and reallocate any internal
// codec/frame/scaling state. Encode scales/converts frame to the
// configured size internally and submits it at the given presentation
// timestamp.
type Codec interface {
	Reconfigure(size Size) error
	Encode(frame *CapturedFrame, pts int64) ([]byte, error)
	Close()
}

// Pipeline runs the Encoder Pipeline. The zero value is not usable;
// construct with New.
type Pipeline struct {
	capture DesktopCapture
	codec   Codec
	log     *agentlog.Logger

	frames chan []byte

	mu             sync.Mutex
	configuredSize Size
	haveConfigured bool
	lastCapture    *CapturedFrame
	pts            int64

	cancel context.CancelFunc
	done   chan struct{}
}

// framesCapacity bounds the pipeline's output queue; the relay session
// drains it, so this is a small jitter buffer, not a backlog.
const framesCapacity = 8

// New creates a Pipeline over capture and codec.
func New(capture DesktopCapture, codec Codec, log *agentlog.Logger) *Pipeline {
	return &Pipeline{
		capture: capture,
		codec:   codec,
		log:     log,
		frames:  make(chan []byte, framesCapacity),
	}
}

// Frames returns the channel of encoded packets. Implements
// relaysession.Encoder.
func (p *Pipeline) Frames() <-chan []byte {
	return p.frames
}

// Start begins the capture/encode cycle in a background goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx)
	return nil
}

// Stop cancels the running cycle and waits up to timeout for it to exit,
// logging (but not blocking further) if it doesn't.
func (p *Pipeline) Stop(timeout time.Duration) {
	if p.cancel == nil {
		return
	}
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(timeout):
		p.log.Warningf("encoder task did not stop within %s", timeout)
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.codec.Close()
			return
		case <-ticker.C:
			p.cycle()
		}
	}
}

// cycle implements spec §4.5's six-step algorithm.
func (p *Pipeline) cycle() {
	target, err := p.capture.TargetSize()
	if err != nil {
		p.log.Warningf("target size query failed: %v", err)
		return
	}

	if !p.haveConfigured || target != p.configuredSize {
		if err := p.codec.Reconfigure(target); err != nil {
			p.log.Errorf("codec reconfigure to %dx%d failed: %v", target.Width, target.Height, err)
			return
		}
		p.configuredSize = target
		p.haveConfigured = true
		p.lastCapture = nil
		return // spec step 2: skip the cycle that reconfigures
	}

	frame, err := p.capture.Capture()
	if err != nil {
		if p.lastCapture == nil {
			return // never send stale when none exists yet
		}
		frame = p.lastCapture
	} else {
		p.lastCapture = frame
	}

	p.pts++
	packet, err := p.codec.Encode(frame, p.pts)
	if err != nil {
		if errors.Is(err, ErrNeedMoreInput) {
			return
		}
		p.log.Errorf("codec encode error: %v", err)
		return
	}
	if len(packet) == 0 {
		return
	}

	select {
	case p.frames <- packet:
	default:
		p.log.Warningf("encoded frame dropped: relay session not draining fast enough")
	}
}
