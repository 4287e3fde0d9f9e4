// Package broadcast is the long-lived push channel to interactive clients:
// a websocket endpoint that forwards every canonical event verbatim to all
// connected clients and accepts inbound command envelopes, republishing
// them on the command-request bus topic.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/metrics"
	"github.com/lattice-iot/gatewaylink/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBufSize  = 64
	maxInboundSize = 64 << 10
)

// Envelope is the {type, ...} frame every push message uses.
type Envelope struct {
	Type      string                   `json:"type"`
	Data      *protocol.CanonicalEvent `json:"data,omitempty"`
	CommandID string                   `json:"commandId,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// inboundFrame is the client→server shape. Only type:"command" is acted on.
type inboundFrame struct {
	Type        string               `json:"type"`
	DeviceID    string               `json:"deviceId"`
	DeviceType  protocol.Family      `json:"deviceType"`
	MessageType protocol.MessageType `json:"messageType"`
	Payload     map[string]any       `json:"payload"`
	CommandID   string               `json:"commandId"`
}

// Hub owns the client set and fans normalized events out to it.
type Hub struct {
	bus *bus.Bus
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan Envelope
}

func NewHub(b *bus.Bus, log zerolog.Logger) *Hub {
	return &Hub{
		bus:     b,
		log:     log.With().Str("component", "broadcast").Logger(),
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The push channel is open to the UI; origin enforcement is the
			// reverse proxy's concern, as with the REST surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run subscribes to the normalized-event topic and forwards each event to
// every connected client until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	defer h.bus.Recover("broadcast")

	ch, cancel := h.bus.Normalized.Subscribe()
	defer cancel()
	for {
		select {
		case <-stop:
			h.closeAll()
			return
		case ce, ok := <-ch:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(Envelope{Type: "data", Data: &ce, Timestamp: time.Now().UTC()})
		}
	}
}

// broadcast sends env to every client, dropping the frame for any client
// whose send buffer is full — a slow reader never blocks the pipeline.
func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- env:
			metrics.BroadcastEventsTotal.Inc()
		default:
		}
	}
}

// ClientCount reports the number of connected clients, for metrics scrapes.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the client: it immediately
// receives the synthetic connected and ready frames, then live data.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Envelope, clientBufSize)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("push client connected")

	now := time.Now().UTC()
	c.send <- Envelope{Type: "connected", Timestamp: now}
	c.send <- Envelope{Type: "ready", Timestamp: now}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.detach(c)
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.detach(c)

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleInbound(c, raw)
	}
}

// handleInbound republishes a client's command envelope on the bus and
// acknowledges it. Anything else is ignored.
func (h *Hub) handleInbound(c *client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.bus.ReportError("broadcast", fmt.Errorf("inbound frame: %w", err))
		return
	}
	if frame.Type != "command" {
		return
	}

	h.bus.Commands.Publish(protocol.CommandRequest{
		DeviceID:    frame.DeviceID,
		DeviceType:  frame.DeviceType,
		MessageType: frame.MessageType,
		Payload:     frame.Payload,
		CommandID:   frame.CommandID,
	})

	select {
	case c.send <- Envelope{Type: "command_ack", CommandID: frame.CommandID, Timestamp: time.Now().UTC()}:
	default:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

// Server wraps the hub in its own listener when the push channel runs on a
// dedicated port.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(addr string, hub *Hub, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	return &Server{
		http: &http.Server{Addr: addr, Handler: mux},
		log:  log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("websocket server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("websocket server shutting down")
	return s.http.Shutdown(ctx)
}
