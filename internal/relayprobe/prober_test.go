package relayprobe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/sessionstate"
	"github.com/deskagent/deskagent/internal/statusbus"
	"github.com/deskagent/deskagent/internal/wire"
)

type fakeSetter struct {
	ch chan bool
}

func (f *fakeSetter) SetRelayStatus(online bool) {
	select {
	case f.ch <- online:
	default:
	}
}

// echoRelay answers every datagram it receives with the same bytes,
// standing in for a relay server's heartbeat reply.
func echoRelay(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], addr)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

func TestProberGoesOnlineOnReply(t *testing.T) {
	relayAddr := echoRelay(t)
	setter := &fakeSetter{ch: make(chan bool, 4)}
	bus := statusbus.New()
	log := agentlog.New("relayprobe-test", nil)

	p := New(relayAddr, setter, bus, log)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	select {
	case online := <-setter.ch:
		if !online {
			t.Fatalf("expected online=true on first reply")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status transition")
	}

	if p.Status() != sessionstate.RelayOnline {
		t.Fatalf("Status() = %v, want RelayOnline", p.Status())
	}
}

func TestProberGoesOfflineWithoutReply(t *testing.T) {
	// A relay address with nothing listening; heartbeats vanish silently
	// and the next tick should detect the unanswered heartbeat.
	deadConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := deadConn.LocalAddr().(*net.UDPAddr)
	deadConn.Close()

	setter := &fakeSetter{ch: make(chan bool, 4)}
	bus := statusbus.New()
	log := agentlog.New("relayprobe-test", nil)

	p := New(deadAddr, setter, bus, log)
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	p.conn = conn                       // the socket Start would have bound
	p.status = sessionstate.RelayOnline // simulate a prior successful probe
	p.pending = true

	p.onTick()

	if p.Status() != sessionstate.RelayOffline {
		t.Fatalf("Status() = %v, want RelayOffline", p.Status())
	}
	select {
	case online := <-setter.ch:
		if online {
			t.Fatalf("expected online=false transition")
		}
	default:
		t.Fatal("expected a status transition to be published")
	}
}

func TestHeartbeatEncodesAsHeartbeatMessage(t *testing.T) {
	payload, err := wire.Encode(wire.Message{Heartbeat: &wire.Heartbeat{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind() != "Heartbeat" {
		t.Fatalf("Kind() = %q, want Heartbeat", msg.Kind())
	}
}
