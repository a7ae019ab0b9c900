package statusbus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskagent/deskagent/internal/agentlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback only — Handler is meant to be served on 127.0.0.1, so any
	// origin arriving here is already local.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves Bus events as a one-way JSON WebSocket feed, for a
// status-viewer process (the GUI this agent core has no opinion about) to
// attach to without linking against the agent binary. Adapted from the
// teacher's internal/websocket/handler.go + hub.go write pump, stripped of
// the authentication/database layer that doesn't apply to a loopback
// status feed.
type Handler struct {
	bus *Bus
	log *agentlog.Logger
}

// NewHandler creates a status WebSocket handler backed by bus.
func NewHandler(bus *Bus, log *agentlog.Logger) *Handler {
	return &Handler{bus: bus, log: log}
}

// ServeHTTP upgrades the request and streams Bus events until the client
// disconnects or the bus unsubscribes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warningf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	// Drain inbound frames (pings/close) without acting on payloads; this
	// is a publish-only feed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsubscribe()
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
