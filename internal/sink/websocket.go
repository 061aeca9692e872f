// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/fleetsim/internal/log"
	"github.com/ManuGH/fleetsim/internal/metrics"
	"github.com/ManuGH/fleetsim/internal/sim/event"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 5 * time.Second
	maxReadBytes = 512
)

// Message types pushed to WebSocket clients.
const (
	MessagePosition     = "position"
	MessageEventCreated = "event_created"
	MessageEventExpired = "event_expired"
)

// Message is the JSON frame sent to clients.
type Message struct {
	Type      string      `json:"type"`
	VehicleID string      `json:"vehicle_id,omitempty"`
	Position  *orb.Point  `json:"position,omitempty"`
	Event     *event.View `json:"event,omitempty"`
	Time      time.Time   `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts simulation output to connected WebSocket clients. A client
// whose buffer is full misses messages instead of slowing the tick.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  bufferSize,
		logger:  log.WithComponent("websocket"),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Name() string { return "websocket" }

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str(log.FieldEvent, "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str(log.FieldEvent, "ws.connected").
		Str(log.FieldAddr, r.RemoteAddr).
		Int("clients", n).
		Msg("websocket client connected")
	go h.writeLoop(c)
	go h.readLoop(c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		metrics.IncSinkError(h.Name())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			metrics.IncSinkError(h.Name())
		}
	}
}

func (h *Hub) SetVehiclePosition(id string, p orb.Point) {
	h.Broadcast(Message{Type: MessagePosition, VehicleID: id, Position: &p, Time: time.Now()})
}

func (h *Hub) OnEventCreated(ev event.View) {
	h.Broadcast(Message{Type: MessageEventCreated, Event: &ev, Time: time.Now()})
}

func (h *Hub) OnEventExpired(ev event.View) {
	h.Broadcast(Message{Type: MessageEventExpired, Event: &ev, Time: time.Now()})
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug().Err(err).Str(log.FieldEvent, "ws.write_failed").Msg("dropping websocket client")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readLoop only drains control frames; clients do not send data.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(maxReadBytes)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str(log.FieldEvent, "ws.read_failed").Msg("websocket client gone")
			}
			return
		}
	}
}
