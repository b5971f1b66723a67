package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/pdu"
)

const (
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
	subscriberBuffer = 64
)

// eventMessage is the JSON form of a modem event on the websocket.
type eventMessage struct {
	Event    string            `json:"event"`
	Line     string            `json:"line,omitempty"`
	Data     string            `json:"data,omitempty"`
	CallerID string            `json:"caller_id,omitempty"`
	Memory   string            `json:"memory,omitempty"`
	Index    *int              `json:"index,omitempty"`
	Message  *modem.Message    `json:"message,omitempty"`
	Report   *pdu.StatusReport `json:"report,omitempty"`
	Fix      *modem.GPSFix     `json:"fix,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func newEventMessage(e modem.Event) eventMessage {
	msg := eventMessage{
		Event:    e.Kind.String(),
		Line:     e.Line,
		Data:     string(e.Data),
		CallerID: e.CallerID,
		Memory:   e.Memory,
		Message:  e.Message,
		Report:   e.Report,
		Fix:      e.Fix,
	}
	// Storage slots start at 0; only events about a stored message carry one
	if e.Kind == modem.EventSMSReceived || e.Kind == modem.EventDelivery {
		index := e.Index
		msg.Index = &index
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// Hub fans modem events out to websocket subscribers. Subscribers that
// fall behind miss events rather than stall the modem loop.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewHub returns a Hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[chan []byte]struct{}),
	}
}

// HandleEvent implements modem.Handler.
func (h *Hub) HandleEvent(e modem.Event) {
	payload, err := json.Marshal(newEventMessage(e))
	if err != nil {
		h.logger.Error("Failed to encode event", "error", err, "event", e.Kind)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe returns a channel of encoded events and a function that
// unsubscribes it.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
		})
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()
	h.logger.Info("WebSocket client connected", "remote", r.RemoteAddr)

	// Reads only detect the close; clients do not send anything.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			h.logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr)
			return
		case payload := <-events:
			if err := h.write(conn, websocket.TextMessage, payload); err != nil {
				h.logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				h.logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

// wsConn is the part of *websocket.Conn a write needs.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
}

// write sends one frame under writeTimeout.
func (h *Hub) write(conn wsConn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteMessage(messageType, data)
}
