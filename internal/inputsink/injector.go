// Package inputsink replays inbound mouse, touch, and keyboard events onto
// the local desktop session. It implements relaysession.InputSink, and is
// the Go counterpart of RemoteInputSimulator: coordinates arrive in the
// sender's reference 1920x1080 space and are rescaled to the local screen
// before injection, and every call runs on a single worker goroutine so
// platform injection never shares a thread with the relay socket's I/O
// loops (spec §4.6, §5).
package inputsink

import (
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/wire"
)

// senderWidth and senderHeight are the reference resolution inbound mouse
// and touch coordinates are expressed in, regardless of the sender's own
// screen size.
const (
	senderWidth  = 1920
	senderHeight = 1080
)

// doubleClickDelay is the gap between the two synthetic clicks that stand
// in for an inbound MouseDoubleClick event, matching the original's
// QTimer::singleShot(50, ...) second click.
const doubleClickDelay = 50 * time.Millisecond

// maxTouchContacts bounds how many simultaneous touch points are injected
// per event, matching the ten-finger ceiling most touch digitizers expose.
const maxTouchContacts = 10

// MouseFlag is a bitfield describing one synthetic mouse action.
type MouseFlag uint32

const (
	MouseFlagMove MouseFlag = 1 << iota
	MouseFlagLeftDown
	MouseFlagLeftUp
	MouseFlagRightDown
	MouseFlagRightUp
	MouseFlagMiddleDown
	MouseFlagMiddleUp
	MouseFlagWheel
)

// MouseAction is one entry of a batch handed to a Backend in a single call,
// mirroring the original's practice of building one INPUT array per event
// so the OS applies move-then-click atomically.
type MouseAction struct {
	AbsX, AbsY int32 // 0..65535 absolute screen fraction
	Flags      MouseFlag
	WheelDelta int32
}

// TouchFlag is a bitfield describing one touch contact's lifecycle state,
// named after the Windows POINTER_FLAG_* constants the real backend maps
// them to.
type TouchFlag uint32

const (
	TouchFlagDown TouchFlag = 1 << iota
	TouchFlagUpdate
	TouchFlagUp
)

// TouchContact is one finger's injected state, with its contact rectangle
// already computed in local-screen pixels.
type TouchContact struct {
	ID                         int32
	X, Y                       int32
	Flags                      TouchFlag
	Pressure                   uint32 // 0..1024
	Left, Top, Right, Bottom   int32
}

// Backend performs the platform-specific injection. Tests use a fake;
// production builds use the Windows SendInput/InjectTouchInput backend in
// backend_windows.go.
type Backend interface {
	ScreenSize() (width, height int32, err error)
	SendMouseBatch(actions []MouseAction) error
	SendTouch(contacts []TouchContact) error
	SendKey(vk uint16, pressed bool) error
}

// Injector implements relaysession.InputSink on top of a Backend, running
// all injection on a single dedicated worker goroutine.
type Injector struct {
	backend  Backend
	log      *agentlog.Logger
	cmds     chan func()
	stopping chan struct{}
	done     chan struct{}
}

// New creates an Injector. Call Start before feeding it events.
func New(backend Backend, log *agentlog.Logger) *Injector {
	return &Injector{
		backend:  backend,
		log:      log,
		cmds:     make(chan func(), 64),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (in *Injector) Start() {
	go in.run()
}

// Stop signals the worker to exit and waits for it; commands still queued
// at that point are not guaranteed to run.
func (in *Injector) Stop() {
	close(in.stopping)
	<-in.done
}

func (in *Injector) run() {
	defer close(in.done)
	for {
		select {
		case <-in.stopping:
			return
		case cmd := <-in.cmds:
			cmd()
		}
	}
}

func (in *Injector) submit(cmd func()) {
	select {
	case in.cmds <- cmd:
	case <-in.stopping:
	}
}

// HandleMouse implements relaysession.InputSink.
func (in *Injector) HandleMouse(e wire.MouseEvent) {
	in.submit(func() { in.handleMouse(e) })
}

// HandleTouch implements relaysession.InputSink.
func (in *Injector) HandleTouch(e wire.TouchEvent) {
	in.submit(func() { in.handleTouch(e) })
}

// HandleKeyboard implements relaysession.InputSink.
func (in *Injector) HandleKeyboard(e wire.KeyboardEvent) {
	in.submit(func() { in.handleKeyboard(e) })
}

func (in *Injector) handleMouse(e wire.MouseEvent) {
	w, h, err := in.backend.ScreenSize()
	if err != nil {
		in.log.Warningf("inputsink: screen size unavailable: %v", err)
		return
	}

	absX, absY := rescaleToAbsolute(e.X, e.Y, w, h)
	move := MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagMove}

	if e.Mask&wire.MouseDoubleClick != 0 {
		click := []MouseAction{move,
			{AbsX: absX, AbsY: absY, Flags: MouseFlagLeftDown},
			{AbsX: absX, AbsY: absY, Flags: MouseFlagLeftUp},
		}
		if err := in.backend.SendMouseBatch(click); err != nil {
			in.log.Warningf("inputsink: double-click first stroke failed: %v", err)
		}
		time.AfterFunc(doubleClickDelay, func() {
			in.submit(func() {
				if err := in.backend.SendMouseBatch(click); err != nil {
					in.log.Warningf("inputsink: double-click second stroke failed: %v", err)
				}
			})
		})
		return
	}

	batch := []MouseAction{move}
	if e.Mask&wire.MouseLeftDown != 0 {
		batch = append(batch, MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagLeftDown})
	}
	if e.Mask&wire.MouseLeftUp != 0 {
		batch = append(batch, MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagLeftUp})
	}
	if e.Mask&wire.MouseRightClick != 0 {
		batch = append(batch,
			MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagRightDown},
			MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagRightUp})
	}
	if e.Mask&wire.MouseMiddleClick != 0 {
		batch = append(batch,
			MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagMiddleDown},
			MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagMiddleUp})
	}
	if e.Mask&wire.MouseWheel != 0 {
		batch = append(batch, MouseAction{AbsX: absX, AbsY: absY, Flags: MouseFlagWheel, WheelDelta: e.Value})
	}

	if err := in.backend.SendMouseBatch(batch); err != nil {
		in.log.Warningf("inputsink: mouse batch failed: %v", err)
	}
}

func (in *Injector) handleTouch(e wire.TouchEvent) {
	w, h, err := in.backend.ScreenSize()
	if err != nil {
		in.log.Warningf("inputsink: screen size unavailable: %v", err)
		return
	}

	points := e.Points
	if len(points) > maxTouchContacts {
		in.log.Warningf("inputsink: dropping %d touch points beyond the %d-contact limit", len(points)-maxTouchContacts, maxTouchContacts)
		points = points[:maxTouchContacts]
	}

	contacts := make([]TouchContact, 0, len(points))
	for _, p := range points {
		lx := rescaleAxis(p.X, senderWidth, w)
		ly := rescaleAxis(p.Y, senderHeight, h)
		contacts = append(contacts, TouchContact{
			ID:       p.ID,
			X:        lx,
			Y:        ly,
			Flags:    touchFlagFor(p.Phase),
			Pressure: uint32(clampInt32(p.Pressure, 0, 1024)),
			Left:     lx - p.Size,
			Top:      ly - p.Size,
			Right:    lx + p.Size,
			Bottom:   ly + p.Size,
		})
	}

	if err := in.backend.SendTouch(contacts); err != nil {
		in.log.Warningf("inputsink: touch injection failed: %v", err)
	}
}

func touchFlagFor(phase wire.TouchPhase) TouchFlag {
	switch phase {
	case wire.TouchBegin:
		return TouchFlagDown
	case wire.TouchMove:
		return TouchFlagUpdate
	default: // TouchEnd, TouchCancel
		return TouchFlagUp
	}
}

func (in *Injector) handleKeyboard(e wire.KeyboardEvent) {
	vk, ok := virtualKeyFor(e.Key)
	if !ok {
		in.log.Warningf("inputsink: no virtual-key mapping for key code %d, dropping", e.Key)
		return
	}
	if err := in.backend.SendKey(vk, e.Pressed); err != nil {
		in.log.Warningf("inputsink: key injection failed: %v", err)
	}
}

// rescaleToAbsolute rescales a point from the sender's reference 1920x1080
// space into the local screen's pixel space, then into the OS's 0..65535
// absolute-coordinate convention — the same two-stage conversion the
// original performed through its own intermediate reference canvas (spec
// §4.6).
func rescaleToAbsolute(x, y, localWidth, localHeight int32) (absX, absY int32) {
	lx := rescaleAxis(x, senderWidth, localWidth)
	ly := rescaleAxis(y, senderHeight, localHeight)
	return toAbsolute(lx, localWidth), toAbsolute(ly, localHeight)
}

func rescaleAxis(v, refSpan, localSpan int32) int32 {
	if refSpan == 0 {
		return 0
	}
	return int32(int64(v) * int64(localSpan) / int64(refSpan))
}

func toAbsolute(v, span int32) int32 {
	if span == 0 {
		return 0
	}
	return int32(int64(v) * 65535 / int64(span))
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
