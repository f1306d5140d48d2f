// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/noldarim/inkwell/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	// WebSocket limits
	maxMessageSize = 4096
	maxFilters     = 50
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxClients     = 100
	clientBuffer   = 64
)

// newUpgrader creates a WebSocket upgrader that respects the configured allowed
// origins. When allowedOrigins is empty the upgrader accepts any origin
// (localhost development mode). When set, only those origins are permitted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			_, ok := allowed[origin]
			return ok
		},
	}
}

// SubscriptionFilter selects the pipeline whose events a client receives.
type SubscriptionFilter struct {
	PipelineID string `json:"pipeline_id,omitempty"`
}

// SnapshotFunc returns the events that bring a client subscribing to
// pipelineID up to date. ok is false for unknown pipelines.
type SnapshotFunc func(pipelineID string) (events []protocol.Event, ok bool)

// wsClient represents a single connected WebSocket client.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	filters []SubscriptionFilter
	mu      sync.RWMutex
}

// queue hands data to the write pump, dropping it when the client is behind.
func (c *wsClient) queue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) queueError(msg string) {
	data, err := json.Marshal(wsOutMessage{Type: "error", Message: msg})
	if err == nil {
		c.queue(data)
	}
}

// ClientRegistry manages all connected WebSocket clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast sends an event to all clients whose filters match.
func (r *ClientRegistry) Broadcast(event protocol.Event) {
	data, err := marshalEvent(event)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to marshal event for WebSocket broadcast")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.clients {
		if c.matchesAny(event) && !c.queue(data) {
			getLog().Warn().Str("event_type", eventTypeName(event)).Msg("Dropping event for slow WebSocket client")
		}
	}
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *ClientRegistry) add(c *wsClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *ClientRegistry) remove(c *wsClient) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

// matchesAny reports whether event should go to the client. Clients without
// filters receive everything; events not tied to a pipeline (connection and
// context changes) go to every client.
func (c *wsClient) matchesAny(event protocol.Event) bool {
	scoped, ok := event.(pipelineScoped)
	if !ok {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filters) == 0 {
		return true
	}
	pipelineID := scoped.GetPipelineID()
	for _, f := range c.filters {
		if f.PipelineID == "" || f.PipelineID == pipelineID {
			return true
		}
	}
	return false
}

// pipelineScoped lets events declare their pipeline without this file
// enumerating every event type.
type pipelineScoped interface {
	GetPipelineID() string
}

// wsMessage is the envelope for client → server WebSocket messages.
type wsMessage struct {
	Type    string             `json:"type"`    // "subscribe" or "unsubscribe"
	Filters SubscriptionFilter `json:"filters"` // single filter per message
}

// wsOutMessage is the envelope for server → client WebSocket messages.
type wsOutMessage struct {
	Type      string `json:"type"`                 // "event" or "error"
	EventType string `json:"event_type,omitempty"` // see eventTypeName
	Payload   any    `json:"payload,omitempty"`
	Message   string `json:"message,omitempty"`
}

// eventTypeName returns the wire name of an event.
func eventTypeName(event protocol.Event) string {
	switch e := event.(type) {
	case protocol.PipelineLifecycleEvent:
		return "pipeline." + string(e.Type)
	case protocol.PipelineUpdatedEvent:
		return "pipeline.updated"
	case protocol.PipelineDeletedEvent:
		return "pipeline.deleted"
	case protocol.ConnectionStateEvent:
		return "connection.state"
	case protocol.ContextUpdatedEvent:
		return "context.updated"
	case protocol.RecoveryStatusEvent:
		return "recovery.status"
	case protocol.ErrorEvent:
		return "error"
	default:
		return fmt.Sprintf("%T", event)
	}
}

func marshalEvent(event protocol.Event) ([]byte, error) {
	out := wsOutMessage{
		Type:      "event",
		EventType: eventTypeName(event),
		Payload:   event,
	}
	return json.Marshal(out)
}

// HandleWebSocket upgrades an HTTP connection and manages the client
// lifecycle. snapshot may be nil.
func HandleWebSocket(registry *ClientRegistry, allowedOrigins []string, snapshot SnapshotFunc) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			getLog().Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan []byte, clientBuffer),
		}
		if !registry.add(client) {
			getLog().Warn().Msg("WebSocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}
		getLog().Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

		go client.writePump()
		client.readPump(registry, snapshot)
	}
}

func (c *wsClient) readPump(registry *ClientRegistry, snapshot SnapshotFunc) {
	defer func() {
		registry.remove(c)
		close(c.send) // signals writePump to exit
		c.conn.Close()
		getLog().Info().Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			getLog().Warn().Err(err).Msg("Invalid WebSocket message")
			c.queueError("invalid message")
			continue
		}
		c.handle(msg, snapshot)
	}
}

func (c *wsClient) handle(msg wsMessage, snapshot SnapshotFunc) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		full := len(c.filters) >= maxFilters
		if !full {
			c.filters = append(c.filters, msg.Filters)
		}
		c.mu.Unlock()
		if full {
			getLog().Warn().Msg("WebSocket client hit max filter limit")
			c.queueError("too many subscriptions")
			return
		}
		getLog().Debug().Str("pipeline_id", msg.Filters.PipelineID).Msg("WebSocket client subscribed")
		c.catchUp(msg.Filters.PipelineID, snapshot)
	case "unsubscribe":
		c.mu.Lock()
		c.filters = lo.Reject(c.filters, func(f SubscriptionFilter, _ int) bool { return f == msg.Filters })
		c.mu.Unlock()
		getLog().Debug().Str("pipeline_id", msg.Filters.PipelineID).Msg("WebSocket client unsubscribed")
	default:
		getLog().Warn().Str("type", msg.Type).Msg("Unknown WebSocket message type")
		c.queueError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// catchUp sends the current state of a newly subscribed pipeline.
func (c *wsClient) catchUp(pipelineID string, snapshot SnapshotFunc) {
	if pipelineID == "" || snapshot == nil {
		return
	}
	events, ok := snapshot(pipelineID)
	if !ok {
		c.queueError(fmt.Sprintf("unknown pipeline %s", pipelineID))
		return
	}
	for _, ev := range events {
		data, err := marshalEvent(ev)
		if err != nil {
			getLog().Error().Err(err).Msg("Failed to marshal snapshot event")
			continue
		}
		c.queue(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by readPump, send close frame.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				getLog().Error().Err(err).Msg("WebSocket write error")
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
