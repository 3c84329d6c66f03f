package apihttp

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsUpdate is an encoded message queued for fan-out.
type wsUpdate struct {
	kind    string
	payload []byte
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans session updates out to WebSocket clients. Only the run goroutine
// touches clients and latest. An update identical to the previous one of the
// same kind is not resent, and a newly registered client is sent the latest
// update of every kind.
type wsHub struct {
	clients    map[*wsClient]struct{}
	latest     map[string][]byte
	count      atomic.Int64
	updates    chan wsUpdate
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]struct{}),
		latest:     make(map[string][]byte),
		updates:    make(chan wsUpdate, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			h.shutdown()
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			for _, payload := range h.latest {
				h.deliver(c, payload)
			}
			h.logger.Debug("ws client connected", slog.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("ws client disconnected", slog.Int("clients", len(h.clients)))
			}
		case u := <-h.updates:
			if len(h.clients) == 0 || bytes.Equal(h.latest[u.kind], u.payload) {
				continue
			}
			h.latest[u.kind] = u.payload
			for c := range h.clients {
				h.deliver(c, u.payload)
			}
		}
	}
}

// deliver queues payload for c, dropping c when its buffer is full.
func (h *wsHub) deliver(c *wsClient, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Debug("ws client too slow, dropped")
		h.drop(c)
	}
}

func (h *wsHub) drop(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
	if len(h.clients) == 0 {
		// Updates are ignored while nobody listens.
		clear(h.latest)
	}
}

func (h *wsHub) shutdown() {
	deadline := time.Now().Add(2 * time.Second)
	closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage, closing, deadline)
		}
		h.drop(c)
	}
	h.logger.Debug("ws hub stopped")
}

// Close disconnects every client and stops the hub. Safe to call more than
// once.
func (h *wsHub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

// Broadcast queues a typed JSON message for every connected client. The
// update is dropped when the queue is full.
func (h *wsHub) Broadcast(kind string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: kind, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}
	select {
	case h.updates <- wsUpdate{kind: kind, payload: payload}:
	default:
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients never send data.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
