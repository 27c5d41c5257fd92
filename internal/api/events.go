package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// EventType names one of the domain events from spec.md §6's
// "Notification/audit export" collaborator contract: a best-effort stream
// emitted at transaction commit.
type EventType string

const (
	EventInvoiceMatched    EventType = "invoice.matched"
	EventExceptionCreated  EventType = "exception.created"
	EventImportCompleted   EventType = "import.completed"
)

// DomainEvent is the envelope broadcast over /api/v1/stream.
type DomainEvent struct {
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emitted_at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub maintains the set of subscribed websocket clients and broadcasts
// domain events to all of them. Adapted in shape, unchanged in behavior,
// from the teacher's CoinJoin-alert broadcast hub: a mutex-guarded client
// map, a buffered broadcast channel, and a write-deadline per client so one
// slow subscriber can never stall the others.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

// NewHub builds an empty Hub. Run must be started in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel and fans each message out to every
// connected client until the channel is closed.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				apiLog.WithError(err).Debug("event stream write failed, dropping client")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades the request to a websocket connection and registers it
// as an event stream client.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		apiLog.WithError(err).Warn("event stream upgrade failed")
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish emits a domain event to every connected subscriber, best-effort:
// a full broadcast buffer silently drops the event rather than blocking
// the caller's commit path (spec.md §6: "emitted best-effort at transaction
// commit").
func (h *Hub) Publish(eventType EventType, tenantID string, payload any) {
	event := DomainEvent{Type: eventType, TenantID: tenantID, Payload: payload, EmittedAt: time.Now()}
	data, err := json.Marshal(event)
	if err != nil {
		apiLog.WithError(err).Warn("failed to marshal domain event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		apiLog.WithField("event_type", eventType).Warn("event stream buffer full, dropping event")
	}
}
