// Package rendezvous implements the Rendezvous Client: the long-lived TCP
// connection to the rendezvous server that registers this agent's identity,
// answers PunchHole requests with the current relay endpoint, and triggers
// a relay session once the server has steered a viewer our way.
//
// Grounded on original_source/DeskServer/PeerClient.{h,cpp}: a single-shot
// 3s reconnect timer armed on every disconnect/dial, a small buffer-free
// read loop (framing here is delegated to internal/wire instead of PeerClient's
// manual QByteArray accumulation), and pure setters for relay info/status
// that the relay prober and supervisor call into without synchronising with
// the read loop.
package rendezvous

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/deskagent/deskagent/internal/agentlog"
	"github.com/deskagent/deskagent/internal/sessionstate"
	"github.com/deskagent/deskagent/internal/statusbus"
	"github.com/deskagent/deskagent/internal/wire"
)

// ReconnectDelay mirrors PeerClient's 3000ms single-shot reconnect timer.
const ReconnectDelay = 3 * time.Second

// RelaySessionHandle is the subset of *relaysession.Session the rendezvous
// client needs: the ability to tear it down, and a one-way notification of
// its own disconnect. Expressing this as an interface (rather than this
// package importing internal/relaysession directly) breaks the cyclic
// lifetime the original client/session pair had — the client never takes a
// back-pointer from the session, only this channel (spec design note on
// replacing signal/slot back-references with one-way channels).
type RelaySessionHandle interface {
	Stop()
	Done() <-chan struct{}
}

// SessionLauncher constructs and starts a relay session once a PunchHole
// has been answered with Result OK. Implemented by the supervisor, which
// holds the Encoder/Clipboard/InputSink factories the session needs.
type SessionLauncher interface {
	LaunchRelaySession(relayHost string, relayPort uint16) RelaySessionHandle
}

// Client is the Rendezvous Client. The zero value is not usable; construct
// with New.
type Client struct {
	uuid     string
	launcher SessionLauncher
	bus      *statusbus.Bus
	log      *agentlog.Logger

	serverAddr string

	mu          sync.RWMutex
	relayIP     string
	relayPort   uint16
	relayOnline bool

	stateMu sync.RWMutex
	state   sessionstate.RendezvousState

	connMu sync.Mutex
	conn   net.Conn

	sessMu  sync.Mutex
	session RelaySessionHandle

	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Client identified by uuid. launcher is invoked whenever a
// punch-hole exchange succeeds and a relay session should begin.
func New(uuid string, launcher SessionLauncher, bus *statusbus.Bus, log *agentlog.Logger) *Client {
	return &Client{
		uuid:     uuid,
		launcher: launcher,
		bus:      bus,
		log:      log,
	}
}

// SetRelayInfo records the relay endpoint to offer in future PunchHoleSent
// replies. Safe to call from any goroutine; takes effect on the next
// PunchHole, not retroactively.
func (c *Client) SetRelayInfo(ip string, port uint16) {
	c.mu.Lock()
	c.relayIP = ip
	c.relayPort = port
	c.mu.Unlock()
}

// SetRelayStatus records whether the relay currently answers heartbeats.
// Implements relayprobe.StatusSetter.
func (c *Client) SetRelayStatus(online bool) {
	c.mu.Lock()
	c.relayOnline = online
	c.mu.Unlock()
}

// State returns the client's current connection state.
func (c *Client) State() sessionstate.RendezvousState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s sessionstate.RendezvousState) {
	c.stateMu.Lock()
	changed := c.state != s
	c.state = s
	c.stateMu.Unlock()
	if changed {
		c.log.Infof("state -> %s", s)
	}
}

// Start dials serverAddr ("host:port") and runs the connect/register/
// reconnect loop in a background goroutine until Stop is called.
func (c *Client) Start(serverAddr string) {
	c.serverAddr = serverAddr
	c.stopping = make(chan struct{})
	c.setState(sessionstate.Connecting)
	c.wg.Add(1)
	go c.run()
}

// Stop closes the connection, halts reconnection, tears down any owned
// relay session, and waits for the background loop to exit.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopping)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	c.wg.Wait()
	c.teardownSession()
	c.setState(sessionstate.Disconnected)
}

func (c *Client) teardownSession() {
	c.sessMu.Lock()
	sess := c.session
	c.session = nil
	c.sessMu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		if c.stoppingNow() {
			return
		}

		if err := c.connectAndServe(); err != nil {
			c.log.Warningf("%v", err)
			c.publishError(err.Error())
		}

		if c.stoppingNow() {
			return
		}

		c.setState(sessionstate.Connecting)
		select {
		case <-c.stopping:
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

func (c *Client) stoppingNow() bool {
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}

func (c *Client) connectAndServe() error {
	c.log.Infof("connecting to rendezvous server at %s", c.serverAddr)
	conn, err := net.DialTimeout("tcp", c.serverAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("rendezvous: dial %s: %w", c.serverAddr, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.register(conn); err != nil {
		return err
	}

	return c.readLoop(conn)
}

func (c *Client) register(conn net.Conn) error {
	if err := wire.WriteMessage(conn, wire.Message{RegisterPeer: &wire.RegisterPeer{UUID: c.uuid}}); err != nil {
		return fmt.Errorf("rendezvous: send RegisterPeer: %w", err)
	}
	c.log.Infof("sent RegisterPeer uuid=%s", c.uuid)
	return nil
}

func (c *Client) readLoop(conn net.Conn) error {
	reader := bufio.NewReader(conn)
	for {
		msg, err := wire.ReadMessage(reader)
		if err != nil {
			return fmt.Errorf("rendezvous: connection lost: %w", err)
		}
		c.handle(conn, msg)
	}
}

func (c *Client) handle(conn net.Conn, msg wire.Message) {
	switch {
	case msg.RegisterPeerResponse != nil:
		c.handleRegisterResponse(msg.RegisterPeerResponse)
	case msg.PunchHole != nil:
		c.handlePunchHole(conn, msg.PunchHole)
	default:
		c.log.Warningf("received unexpected message kind %s", msg.Kind())
	}
}

func (c *Client) handleRegisterResponse(resp *wire.RegisterPeerResponse) {
	if resp.Result == wire.ResultOK {
		c.setState(sessionstate.Registered)
		c.log.Infof("registered with rendezvous server")
	} else {
		c.log.Warningf("registration rejected: result=%d", resp.Result)
	}
	c.bus.Publish(statusbus.Event{
		Kind:   statusbus.KindRegistrationResult,
		Source: "rendezvous",
		Code:   int(resp.Result),
	})
}

// handlePunchHole answers a PunchHole with the current relay endpoint, or
// RelayOffline if the prober hasn't seen a reply recently, then — on a
// successful offer — calls the session launcher and replaces any prior
// session. Both run synchronously on this read loop, so the next inbound
// frame is not read until the new session's Start and the old session's
// Stop have returned.
func (c *Client) handlePunchHole(conn net.Conn, hole *wire.PunchHole) {
	c.log.Infof("received PunchHole id=%d", hole.ID)

	c.mu.RLock()
	relayIP, relayPort, online := c.relayIP, c.relayPort, c.relayOnline
	c.mu.RUnlock()

	sent := &wire.PunchHoleSent{ID: hole.ID}
	if !online {
		sent.Result = wire.ResultRelayOffline
	} else {
		sent.RelayServer = relayIP
		sent.RelayPort = relayPort
		sent.Result = wire.ResultOK
	}

	if err := wire.WriteMessage(conn, wire.Message{PunchHoleSent: sent}); err != nil {
		c.log.Warningf("send PunchHoleSent: %v", err)
		return
	}
	c.log.Infof("sent PunchHoleSent id=%d result=%d", sent.ID, sent.Result)

	if sent.Result == wire.ResultOK && c.launcher != nil {
		c.replaceSession(c.launcher.LaunchRelaySession(relayIP, relayPort))
	}
}

// replaceSession installs next as the client's current relay session,
// tearing down whatever session preceded it first (spec §4.2: "create a
// new Relay Session, destroying any prior one first").
func (c *Client) replaceSession(next RelaySessionHandle) {
	c.sessMu.Lock()
	prev := c.session
	c.session = next
	c.sessMu.Unlock()

	if prev != nil {
		prev.Stop()
	}
}

func (c *Client) publishError(msg string) {
	c.bus.Publish(statusbus.Event{Kind: statusbus.KindError, Source: "rendezvous", Message: msg})
}
