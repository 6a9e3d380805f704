package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/larriantoniy/wa_gateway/internal/domain"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512
	wsSendBuffer     = 16
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin режет cors-middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub раздаёт переходы состояния сессии подключённым websocket-клиентам.
// Новый клиент сразу получает последний снимок.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    []byte
	closed  bool
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "ws_hub"),
		clients: make(map[*wsClient]struct{}),
	}
}

// OnStateChange не блокируется: медленный клиент отключается
func (h *Hub) OnStateChange(_ context.Context, ch domain.StateChange) {
	msg, err := json.Marshal(ch)
	if err != nil {
		h.log.Error("marshal state change", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("ws client too slow, dropping", "client_id", c.id)
			h.removeLocked(c)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close закрывает всех клиентов; вешается на http.Server.RegisterOnShutdown
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), h.log)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	log.Info("ws client connected", "client_id", c.id)

	go h.writePump(c)
	go h.readPump(c, log)
}

// readPump нужен только для pong и обнаружения закрытия
func (h *Hub) readPump(c *wsClient, log *slog.Logger) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		log.Info("ws client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("ws read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
