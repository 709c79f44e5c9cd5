package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// events queued per connection before it counts as stalled
	sendBuffer = 32
)

var ErrHubClosed = errors.New("notification hub closed")

type conn struct {
	ws     *websocket.Conn
	userID string

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func (c *conn) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// write is only called from the connection's writer goroutine.
func (c *conn) write(msgType int, data []byte) error {
	err := c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err != nil {
		return err
	}

	return c.ws.WriteMessage(msgType, data)
}

// Hub keeps the open websocket connections of every user and pushes events
// to all of them. Each connection has its own writer goroutine and send
// queue; a connection that fails a write or lets its queue fill is dropped.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu     sync.RWMutex
	conns  map[string]map[*conn]struct{}
	closed bool
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers connect from the game frontend origin; auth is by token
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[string]map[*conn]struct{}),
	}
}

// Serve upgrades the request and keeps the connection registered for
// userID until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c, err := h.register(ws, userID)
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = ws.Close()

		return err
	}

	go h.writeLoop(c)
	h.readLoop(c)

	return nil
}

func (h *Hub) register(ws *websocket.Conn, userID string) (*conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	c := &conn{
		ws:     ws,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[userID] = set
	}

	set[c] = struct{}{}

	h.log.Debug("websocket connected", "user_id", userID, "connections", len(set))

	return c, nil
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()

	set := h.conns[c.userID]

	_, present := set[c]
	if present {
		delete(set, c)

		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}

	h.mu.Unlock()

	c.stop()

	if present {
		h.log.Debug("websocket disconnected", "user_id", c.userID)
	}
}

// readLoop drains client frames so control messages are handled; the
// protocol is push only.
func (h *Hub) readLoop(c *conn) {
	defer h.unregister(c)

	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		h.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			err := c.write(websocket.TextMessage, payload)
			if err != nil {
				h.log.Warn("drop websocket connection", "user_id", c.userID, "error", err)

				return
			}
		case <-ticker.C:
			err := c.write(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) snapshot(userID string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.conns[userID]
	out := make([]*conn, 0, len(set))

	for c := range set {
		out = append(out, c)
	}

	return out
}

// Publish queues ev on every connection of ev.UserID and never waits on a
// client. Users with no open connection simply miss the event.
func (h *Hub) Publish(_ context.Context, ev Event) {
	targets := h.snapshot(ev.UserID)
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", "type", ev.Type, "error", err)

		return
	}

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("drop stalled websocket connection", "user_id", ev.UserID, "queued", len(c.send))
			h.unregister(c)
		}
	}
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns[userID])
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()

	h.closed = true
	all := make([]*conn, 0)

	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}

	h.conns = make(map[string]map[*conn]struct{})

	h.mu.Unlock()

	for _, c := range all {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		c.stop()
	}

	return nil
}
