// Package relaysession implements the Relay Session: the single
// bidirectional media channel between this agent and the relay server.
// It owns the Encoder Pipeline and the Clipboard watcher for its lifetime,
// and dispatches inbound input/clipboard frames to the injector.
//
// Grounded on original_source/DeskServer/RelayManager.{h,cpp}: connect,
// send RequestRelay, pump an encoder's packets and a clipboard hook's
// events out over the same socket, demux InputControlEvent/ClipboardEvent
// frames in on read, and a strict stop() ordering (encoder, then
// clipboard, then socket) bounded by a few-second timeout with forced
// termination. The original's QThread-per-worker shape becomes one
// goroutine per flow, communicating over the channels named below instead
// of queued signal/slot calls.
package relaysession

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/statusbus"
	"github.com/deskagent/deskagent/internal/wire"
)

// ConnectTimeout bounds the initial TCP dial to the relay.
const ConnectTimeout = 5 * time.Second

// StopTimeout bounds how long each stage of Stop waits for its task to
// exit cleanly before forcing ahead (spec §4.4 stop() ordering).
const StopTimeout = 3 * time.Second

// outboxCapacity bounds the producer-to-writer queue so a slow relay
// socket applies backpressure to producers instead of the writer buffering
// unboundedly (spec §4.4 concurrency shape: "bounded queueing").
const outboxCapacity = 64

// Encoder is the Encoder Pipeline contract as seen by a Relay Session: a
// task that can be started and stopped and that emits opaque video packets.
type Encoder interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration)
	Frames() <-chan []byte
}

// ClipboardWatcher is the Clipboard Bridge contract as seen by a Relay
// Session: an outbound event source driven by a local hook, and an inbound
// sink for events arriving from the relay.
type ClipboardWatcher interface {
	Start()
	Stop()
	Outbound() <-chan wire.ClipboardEvent
	Apply(wire.ClipboardEvent)
}

// InputSink is the Input Injector contract as seen by a Relay Session.
type InputSink interface {
	HandleMouse(wire.MouseEvent)
	HandleTouch(wire.TouchEvent)
	HandleKeyboard(wire.KeyboardEvent)
}

// Session runs one Relay Session. The zero value is not usable; construct
// with New.
type Session struct {
	uuid      string
	encoder   Encoder
	clipboard ClipboardWatcher
	input     InputSink
	bus       *statusbus.Bus
	log       *agentlog.Logger

	connMu sync.Mutex
	conn   net.Conn

	outbox chan wire.Message

	stopping chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	ioWg sync.WaitGroup
}

// New creates a Session. encoder and clipboard are exclusively owned by
// this session for its lifetime (spec §3 Ownership); input is a shared,
// longer-lived sink supplied by the supervisor.
func New(uuid string, encoder Encoder, clipboard ClipboardWatcher, input InputSink, bus *statusbus.Bus, log *agentlog.Logger) *Session {
	return &Session{
		uuid:      uuid,
		encoder:   encoder,
		clipboard: clipboard,
		input:     input,
		bus:       bus,
		log:       log,
		outbox:    make(chan wire.Message, outboxCapacity),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed once the session has fully torn down,
// whether from an explicit Stop or a socket disconnect. Implements
// rendezvous.RelaySessionHandle.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start dials relayHost:relayPort, sends the RequestRelay handshake, and
// launches the reader/writer/producer-forwarder goroutines. It returns
// once the handshake completes or fails; the session continues running in
// the background.
func (s *Session) Start(relayHost string, relayPort uint16) error {
	addr := fmt.Sprintf("%s:%d", relayHost, relayPort)
	s.log.Infof("connecting to relay at %s", addr)

	dialer := net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		s.failEarly()
		return fmt.Errorf("relaysession: dial %s: %w", addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if err := wire.WriteMessage(conn, wire.Message{RequestRelay: &wire.RequestRelay{UUID: s.uuid, Role: wire.RoleServer}}); err != nil {
		conn.Close()
		s.failEarly()
		return fmt.Errorf("relaysession: send RequestRelay: %w", err)
	}
	s.log.Infof("sent RequestRelay uuid=%s", s.uuid)

	encoderCtx, cancelEncoder := context.WithCancel(context.Background())
	if err := s.encoder.Start(encoderCtx); err != nil {
		// Spec §7: encoder open failure prevents video but does not close
		// the relay session.
		s.log.Errorf("encoder failed to start: %v", err)
		s.publishError(fmt.Sprintf("encoder failed to start: %v", err))
	}
	s.clipboard.Start()

	s.ioWg.Add(3)
	go s.forwardEncoderFrames(cancelEncoder)
	go s.forwardClipboardEvents()
	go s.readLoop(conn)
	s.ioWg.Add(1)
	go s.writeLoop(conn)

	s.bus.Publish(statusbus.Event{Kind: statusbus.KindRelaySessionStart, Source: "relaysession"})
	return nil
}

func (s *Session) forwardEncoderFrames(cancel context.CancelFunc) {
	defer s.ioWg.Done()
	defer cancel()
	for {
		select {
		case <-s.stopping:
			return
		case frame, ok := <-s.encoder.Frames():
			if !ok {
				return
			}
			s.enqueue(wire.Message{VideoFrame: &wire.VideoFrame{Data: frame}})
		}
	}
}

func (s *Session) forwardClipboardEvents() {
	defer s.ioWg.Done()
	for {
		select {
		case <-s.stopping:
			return
		case ev, ok := <-s.clipboard.Outbound():
			if !ok {
				return
			}
			s.enqueue(wire.Message{ClipboardEvent: &ev})
		}
	}
}

func (s *Session) enqueue(m wire.Message) {
	select {
	case s.outbox <- m:
	case <-s.stopping:
	}
}

func (s *Session) writeLoop(conn net.Conn) {
	defer s.ioWg.Done()
	for {
		select {
		case <-s.stopping:
			return
		case msg := <-s.outbox:
			if err := wire.WriteMessage(conn, msg); err != nil {
				// Spec §4.4: socket errors transition the session to
				// disconnected; they are not fatal to the process.
				s.log.Warningf("write failed, disconnecting: %v", err)
				s.triggerDisconnect()
				return
			}
		}
	}
}

func (s *Session) readLoop(conn net.Conn) {
	defer s.ioWg.Done()
	reader := bufio.NewReader(conn)
	for {
		msg, err := wire.ReadMessage(reader)
		if err != nil {
			select {
			case <-s.stopping:
			default:
				s.log.Warningf("relay connection lost: %v", err)
				s.triggerDisconnect()
			}
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg wire.Message) {
	switch {
	case msg.InputControlEvent != nil:
		s.dispatchInput(msg.InputControlEvent)
	case msg.ClipboardEvent != nil:
		s.clipboard.Apply(*msg.ClipboardEvent)
	default:
		s.log.Warningf("received unexpected message kind %s", msg.Kind())
	}
}

func (s *Session) dispatchInput(event *wire.InputControlEvent) {
	switch {
	case event.Mouse != nil:
		s.input.HandleMouse(*event.Mouse)
	case event.Touch != nil:
		s.input.HandleTouch(*event.Touch)
	case event.Key != nil:
		s.input.HandleKeyboard(*event.Key)
	}
}

// triggerDisconnect stops the session in the background on an
// unexpected socket error (spec §4.4 item 5). Stop is idempotent, so this
// races harmlessly with an explicit Stop call from the owner.
func (s *Session) triggerDisconnect() {
	go s.Stop()
}

// Stop implements the strict ordering from spec §4.4: encoder, then
// clipboard, then socket/I-O, each bounded by StopTimeout.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopping)

		s.encoder.Stop(StopTimeout)
		s.clipboard.Stop()

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()

		waitDone := make(chan struct{})
		go func() {
			s.ioWg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-time.After(StopTimeout):
			s.log.Warningf("I/O tasks did not stop within %s, abandoning", StopTimeout)
		}

		s.bus.Publish(statusbus.Event{Kind: statusbus.KindRelaySessionEnd, Source: "relaysession"})
		close(s.done)
	})
}

// failEarly marks the session as stopped before any task was launched —
// used when the initial dial or handshake fails. It shares stopOnce with
// Stop so a caller that calls Stop afterward (e.g. a rendezvous client
// replacing a just-failed session) is a harmless no-op rather than a
// double-close.
func (s *Session) failEarly() {
	s.stopOnce.Do(func() {
		close(s.stopping)
		close(s.done)
	})
}

func (s *Session) publishError(msg string) {
	s.bus.Publish(statusbus.Event{Kind: statusbus.KindError, Source: "relaysession", Message: msg})
}
