// Package feed publishes session events to websocket subscribers and serves
// health and Prometheus endpoints next to them.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livemic/internal/domain"
	"livemic/internal/eventsink"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientQueueLen = 32
)

// Message is the JSON frame sent to subscribers.
type Message struct {
	Type   string                    `json:"type"`
	State  domain.SessionState       `json:"state,omitempty"`
	Reason domain.SessionStateReason `json:"reason,omitempty"`
	Status string                    `json:"status,omitempty"`
	Text   string                    `json:"text,omitempty"`
	Note   string                    `json:"note,omitempty"`
	Code   domain.ErrorCode          `json:"code,omitempty"`
	Detail string                    `json:"detail,omitempty"`
	At     time.Time                 `json:"at"`
}

// Hub fans session events out to websocket clients. It implements
// ports.EventSink and never blocks the caller: a client whose queue is full
// is disconnected.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Message
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log.With("component", "feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local displays are served from other origins, e.g. the webview.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	h.publish(Message{
		Type:   "state",
		State:  state,
		Reason: reason,
		Status: eventsink.StatusText(state, reason),
	}, true)
}

func (h *Hub) FinalTranscript(text string, note string) {
	h.publish(Message{
		Type:   "final",
		Text:   text,
		Note:   note,
		Status: eventsink.FinalStatus(note),
	}, false)
}

func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.publish(Message{Type: "error", Code: code, Detail: detail}, false)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection. New clients
// receive the latest state first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueueLen)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	if h.last != nil {
		if payload, err := json.Marshal(h.last); err == nil {
			c.send <- payload
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) publish(msg Message, remember bool) {
	msg.At = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("feed message encode failed", "err", err)
		return
	}

	h.mu.Lock()
	if remember {
		h.last = &msg
	}
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn("dropping slow feed client", "remote", c.conn.RemoteAddr().String())
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only services control frames; subscribers have nothing to say.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	// The write loop sends the close frame and closes the connection.
	c.once.Do(func() { close(c.send) })
}
