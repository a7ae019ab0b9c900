// Package relayprobe implements the Relay Prober: a UDP heartbeat loop
// that determines whether the relay is currently reachable and publishes
// that as a boolean gating punch-hole acceptance.
//
// Grounded on original_source/DeskServer/RelayPeerClient.cpp (bind an
// ephemeral UDP socket, 5s heartbeat timer, one-missed-reply-demotes-to-
// offline) and on the teacher's internal/relay/client.go reconnect/timer
// task shape for how a long-lived background loop is structured in Go.
package relayprobe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/sessionstate"
	"github.com/deskagent/deskagent/internal/statusbus"
	"github.com/deskagent/deskagent/internal/wire"
)

// HeartbeatInterval is the fixed cadence of outbound heartbeats (spec §4.3).
const HeartbeatInterval = 5 * time.Second

// StatusSetter receives relay reachability updates. The Rendezvous Client
// implements this with its own pure setter (spec §4.2 set_relay_status),
// keeping ownership one-way: the prober never reaches into the client's
// state directly.
type StatusSetter interface {
	SetRelayStatus(online bool)
}

// Prober runs the heartbeat loop against a single relay endpoint.
type Prober struct {
	log    *agentlog.Logger
	bus    *statusbus.Bus
	setter StatusSetter

	conn *net.UDPConn

	mu        sync.RWMutex
	relayAddr *net.UDPAddr
	status    sessionstate.RelayStatus
	pending   bool // true once a heartbeat has been sent without a matching reply yet

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Prober targeting relayAddr, which may be nil if the
// target isn't known yet — SetTarget can supply or update it any time,
// including while the heartbeat loop is running (spec §6 hot-reload).
// setter is notified on every status transition; bus receives a
// RelayStatusChanged event for the same.
func New(relayAddr *net.UDPAddr, setter StatusSetter, bus *statusbus.Bus, log *agentlog.Logger) *Prober {
	return &Prober{
		relayAddr: relayAddr,
		setter:    setter,
		bus:       bus,
		log:       log,
		status:    sessionstate.RelayUnknown,
		done:      make(chan struct{}),
	}
}

// SetTarget updates the relay endpoint heartbeats are sent to. Safe to
// call from any goroutine, including while Start's loops are running.
func (p *Prober) SetTarget(relayAddr *net.UDPAddr) {
	p.mu.Lock()
	p.relayAddr = relayAddr
	p.mu.Unlock()
}

func (p *Prober) target() *net.UDPAddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relayAddr
}

// Status returns the last-known relay reachability.
func (p *Prober) Status() sessionstate.RelayStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Start binds an ephemeral UDP port and begins the heartbeat loop. The
// first heartbeat is sent synchronously before Start returns, so callers
// never see a 5s blind window before the first probe goes out (spec §4.3).
// A bind failure is fatal to the prober and is returned to the caller and
// also surfaced as an Error event.
func (p *Prober) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		p.publishError(fmt.Sprintf("bind UDP socket: %v", err))
		return fmt.Errorf("relayprobe: bind udp: %w", err)
	}
	p.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.readLoop(runCtx)

	p.sendHeartbeat()
	go p.tickLoop(runCtx)

	return nil
}

// Stop halts the heartbeat loop and releases the socket.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	<-p.done
}

func (p *Prober) tickLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.onTick()
		}
	}
}

// onTick implements the per-cycle algorithm from spec §4.3: check whether
// the previous heartbeat went unanswered before sending the next one.
func (p *Prober) onTick() {
	p.mu.Lock()
	missed := p.pending
	p.mu.Unlock()

	if missed {
		p.setStatus(sessionstate.RelayOffline)
		p.publishError("heartbeat reply not received before next tick")
	}

	p.sendHeartbeat()
}

func (p *Prober) sendHeartbeat() {
	var framed bytes.Buffer
	if err := wire.WriteMessage(&framed, wire.Message{Heartbeat: &wire.Heartbeat{}}); err != nil {
		p.publishError(fmt.Sprintf("encode heartbeat: %v", err))
		return
	}
	payload := framed.Bytes()

	p.mu.Lock()
	p.pending = true
	p.mu.Unlock()

	addr := p.target()
	if addr == nil {
		p.publishError("no relay target configured")
		return
	}
	if _, err := p.conn.WriteToUDP(payload, addr); err != nil {
		p.publishError(fmt.Sprintf("send heartbeat datagram: %v", err))
	}
}

func (p *Prober) readLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		var d wire.Deframer
		d.Feed(buf[:n])
		frame, ok := d.Next()
		if !ok {
			p.log.Warningf("truncated heartbeat datagram (%d bytes)", n)
			continue
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			// Parse failures are non-fatal per spec §4.3: log and continue.
			p.log.Warningf("malformed heartbeat datagram: %v", err)
			continue
		}
		if msg.Heartbeat != nil {
			p.mu.Lock()
			p.pending = false
			p.mu.Unlock()
			p.setStatus(sessionstate.RelayOnline)
		}
	}
}

func (p *Prober) setStatus(status sessionstate.RelayStatus) {
	p.mu.Lock()
	changed := p.status != status
	p.status = status
	p.mu.Unlock()

	if !changed {
		return
	}
	p.setter.SetRelayStatus(status == sessionstate.RelayOnline)
	p.bus.Publish(statusbus.Event{
		Kind:   statusbus.KindRelayStatusChanged,
		Source: "relayprobe",
		Online: status == sessionstate.RelayOnline,
	})
}

func (p *Prober) publishError(msg string) {
	p.log.Warningf("%s", msg)
	p.bus.Publish(statusbus.Event{Kind: statusbus.KindError, Source: "relayprobe", Message: msg})
}
