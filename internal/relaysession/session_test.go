package relaysession

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/statusbus"
	"github.com/deskagent/deskagent/internal/wire"
)

type fakeEncoder struct {
	frames  chan []byte
	started chan struct{}
	stopped chan struct{}
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		frames:  make(chan []byte, 4),
		started: make(chan struct{}, 1),
		stopped: make(chan struct{}, 1),
	}
}

func (f *fakeEncoder) Start(ctx context.Context) error {
	select {
	case f.started <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeEncoder) Stop(timeout time.Duration) {
	select {
	case f.stopped <- struct{}{}:
	default:
	}
}

func (f *fakeEncoder) Frames() <-chan []byte { return f.frames }

type fakeClipboard struct {
	outbound chan wire.ClipboardEvent
	applied  chan wire.ClipboardEvent
}

func newFakeClipboard() *fakeClipboard {
	return &fakeClipboard{
		outbound: make(chan wire.ClipboardEvent, 4),
		applied:  make(chan wire.ClipboardEvent, 4),
	}
}

func (f *fakeClipboard) Start()                               {}
func (f *fakeClipboard) Stop()                                 {}
func (f *fakeClipboard) Outbound() <-chan wire.ClipboardEvent  { return f.outbound }
func (f *fakeClipboard) Apply(ev wire.ClipboardEvent)          { f.applied <- ev }

type fakeInputSink struct {
	mouse chan wire.MouseEvent
	touch chan wire.TouchEvent
	key   chan wire.KeyboardEvent
}

func newFakeInputSink() *fakeInputSink {
	return &fakeInputSink{
		mouse: make(chan wire.MouseEvent, 4),
		touch: make(chan wire.TouchEvent, 4),
		key:   make(chan wire.KeyboardEvent, 4),
	}
}

func (f *fakeInputSink) HandleMouse(e wire.MouseEvent)       { f.mouse <- e }
func (f *fakeInputSink) HandleTouch(e wire.TouchEvent)       { f.touch <- e }
func (f *fakeInputSink) HandleKeyboard(e wire.KeyboardEvent) { f.key <- e }

func startFakeRelayServer(t *testing.T) (addr string, conns chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	conns = make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	return ln.Addr().String(), conns
}

func splitHostPort(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %s: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %s: %v", portStr, err)
	}
	return host, uint16(port)
}

func TestSessionHandshakeAndVideoForwarding(t *testing.T) {
	addr, conns := startFakeRelayServer(t)
	host, port := splitHostPort(t, addr)

	encoder := newFakeEncoder()
	clipboard := newFakeClipboard()
	input := newFakeInputSink()
	bus := statusbus.New()
	log := agentlog.New("relaysession-test", nil)

	sess := New("test-uuid", encoder, clipboard, input, bus, log)
	if err := sess.Start(host, port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop()

	var conn net.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("relay server never accepted a connection")
	}
	reader := bufio.NewReader(conn)

	msg, err := wire.ReadMessage(reader)
	if err != nil {
		t.Fatalf("read RequestRelay: %v", err)
	}
	if msg.RequestRelay == nil || msg.RequestRelay.UUID != "test-uuid" || msg.RequestRelay.Role != wire.RoleServer {
		t.Fatalf("unexpected handshake message: %+v", msg)
	}

	select {
	case <-encoder.started:
	case <-time.After(time.Second):
		t.Fatal("encoder never started")
	}

	encoder.frames <- []byte{1, 2, 3, 4}

	msg, err = wire.ReadMessage(reader)
	if err != nil {
		t.Fatalf("read VideoFrame: %v", err)
	}
	if msg.VideoFrame == nil || len(msg.VideoFrame.Data) != 4 {
		t.Fatalf("unexpected video frame: %+v", msg)
	}
}

func TestSessionDispatchesInboundInputEvents(t *testing.T) {
	addr, conns := startFakeRelayServer(t)
	host, port := splitHostPort(t, addr)

	encoder := newFakeEncoder()
	clipboard := newFakeClipboard()
	input := newFakeInputSink()
	bus := statusbus.New()
	log := agentlog.New("relaysession-test", nil)

	sess := New("test-uuid", encoder, clipboard, input, bus, log)
	if err := sess.Start(host, port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Stop()

	var conn net.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("relay server never accepted a connection")
	}
	reader := bufio.NewReader(conn)
	if _, err := wire.ReadMessage(reader); err != nil {
		t.Fatalf("read RequestRelay: %v", err)
	}

	mouseMsg := wire.Message{InputControlEvent: &wire.InputControlEvent{Mouse: &wire.MouseEvent{X: 10, Y: 20, Mask: wire.MouseMove}}}
	if err := wire.WriteMessage(conn, mouseMsg); err != nil {
		t.Fatalf("write mouse event: %v", err)
	}

	select {
	case ev := <-input.mouse:
		if ev.X != 10 || ev.Y != 20 {
			t.Fatalf("unexpected mouse event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("input sink never received mouse event")
	}
}

func TestSessionStopStopsEncoderAndClosesDone(t *testing.T) {
	addr, conns := startFakeRelayServer(t)
	host, port := splitHostPort(t, addr)

	encoder := newFakeEncoder()
	clipboard := newFakeClipboard()
	input := newFakeInputSink()
	bus := statusbus.New()
	log := agentlog.New("relaysession-test", nil)

	sess := New("test-uuid", encoder, clipboard, input, bus, log)
	if err := sess.Start(host, port); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var conn net.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("relay server never accepted a connection")
	}
	reader := bufio.NewReader(conn)
	if _, err := wire.ReadMessage(reader); err != nil {
		t.Fatalf("read RequestRelay: %v", err)
	}

	sess.Stop()

	select {
	case <-encoder.stopped:
	case <-time.After(time.Second):
		t.Fatal("encoder was never stopped")
	}

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session Done channel never closed")
	}
}
