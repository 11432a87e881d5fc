package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/room-server/pkg/coordinator"
	"github.com/tecu23/room-server/pkg/messages"
)

// Transport level error kinds, reported alongside the coordinator's.
const (
	ReasonUnknownEvent coordinator.Reason = "UnknownEvent"
	ReasonBadPayload   coordinator.Reason = "BadPayload"
)

// Hub keeps track of all active connections and routes their inbound events to the
// coordinator. Each connection's events are handled on its own read goroutine, so sessions
// never wait on each other here.
type Hub struct {
	mu          sync.RWMutex         // Mutex to protect direct access to the connections map.
	connections map[*Connection]bool // Registered connections

	coordinator *coordinator.Coordinator
	sendBuffer  int
	logger      *zap.Logger
}

// NewHub creates a new hub
func NewHub(c *coordinator.Coordinator, sendBuffer int, logger *zap.Logger) *Hub {
	if sendBuffer < 1 {
		sendBuffer = 1
	}

	return &Hub{
		connections: make(map[*Connection]bool),
		coordinator: c,
		sendBuffer:  sendBuffer,
		logger:      logger.With(zap.String("component", "hub")),
	}
}

// Serve registers an upgraded websocket and starts its pumps
func (h *Hub) Serve(ws *websocket.Conn) *Connection {
	conn := NewConnection(ws, h, h.sendBuffer, h.logger)
	h.Register(conn)

	go conn.WritePump()
	go conn.ReadPump()

	return conn
}

// Register adds the connection and announces it through the coordinator
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = true
	h.mu.Unlock()

	h.coordinator.Connect(conn.ID.String(), conn)
}

// Unregister removes the connection from its session and closes its send buffer. Safe to call
// more than once.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn]
	delete(h.connections, conn)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.coordinator.Disconnect(conn.ID.String())
	conn.close()
}

// Len returns the number of registered connections
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

// Shutdown disconnects every client
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.Unregister(conn)
	}

	h.logger.Info("hub shut down", zap.Int("connections", len(conns)))
}

// handleInbound decodes and routes one client event. Failures are answered with an error
// event to the sender and never escape.
func (h *Hub) handleInbound(conn *Connection, msg messages.InboundMessage) {
	id := conn.ID.String()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic while handling event",
				zap.String("client_id", id),
				zap.String("event", msg.Event),
				zap.Any("panic", r))
			h.sendError(id, coordinator.ReasonInternal, "internal error")
		}
	}()

	switch msg.Event {
	case messages.EventConnectToRoom:
		key, err := msg.StringPayload()
		if err != nil {
			h.sendError(id, ReasonBadPayload, "connectToRoom expects a session key string")
			return
		}

		if _, err := h.coordinator.JoinSession(id, key); err != nil {
			h.fail(id, msg.Event, err)
		}

	case messages.EventMove:
		raw, err := msg.StringPayload()
		if err != nil {
			h.sendError(id, ReasonBadPayload, "move expects a coordinate string such as \"e2e4\"")
			return
		}

		if _, err := h.coordinator.Move(id, raw); err != nil {
			h.fail(id, msg.Event, err)
		}

	case messages.EventGetBoard:
		board, err := h.coordinator.Board(id)
		if err != nil {
			h.fail(id, msg.Event, err)
			return
		}

		h.coordinator.SendTo(id, messages.EventUpdate, board)

	default:
		h.sendError(id, ReasonUnknownEvent, fmt.Sprintf("unknown event %q", msg.Event))
	}
}

func (h *Hub) fail(id, event string, err error) {
	reason := coordinator.ReasonOf(err)
	if errors.Is(err, coordinator.ErrUnknownClient) {
		// the client is already going away
		return
	}

	if reason == coordinator.ReasonInternal {
		h.logger.Error("event failed", zap.String("client_id", id), zap.String("event", event), zap.Error(err))
	}

	h.sendError(id, reason, err.Error())
}

func (h *Hub) sendError(id string, reason coordinator.Reason, message string) {
	h.coordinator.SendTo(id, messages.EventError, messages.ErrorPayload{
		Reason:  string(reason),
		Message: message,
	})
}
