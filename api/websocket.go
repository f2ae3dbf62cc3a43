package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"vigil/core"
	"vigil/metrics"
	"vigil/notify"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket configuration constants
const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 512

	sendChannelSize      = 256
	broadcastChannelSize = 256
)

// WebSocketMessage is the envelope for every stream message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// AlertStreamData is the data of an alert.created message
type AlertStreamData struct {
	Alert *core.Alert `json:"alert"`
	Event *core.Event `json:"event"`
}

// client is one websocket connection with its own read and write goroutines
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of connected alert stream clients and broadcasts
// newly created alerts to them. Slow clients are disconnected.
type Hub struct {
	clients map[*client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	logger *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. Start must run before clients connect.
func NewHub(logger *zap.SugaredLogger, ctx context.Context) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, broadcastChannelSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub's event loop until Stop. Call it exactly once.
func (h *Hub) Start() {
	defer close(h.done)

	h.logger.Info("Alert stream hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			h.logger.Info("Alert stream hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(count))
			h.logger.Debugw("Alert stream client registered", "total_clients", count)

		case c := <-h.unregister:
			h.remove(c)

		case message := <-h.broadcast:
			var slow []*client
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Warnw("Disconnecting slow alert stream client", "remote_addr", c.conn.RemoteAddr().String())
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(count))
	h.logger.Debugw("Alert stream client unregistered", "total_clients", count)
}

// Publish queues an alert for every connected client without blocking.
// Alerts are dropped when the broadcast buffer is full.
func (h *Hub) Publish(alert *core.Alert, event *core.Event) {
	data, err := json.Marshal(WebSocketMessage{
		Type:      notify.EventAlertCreated,
		Data:      AlertStreamData{Alert: alert, Event: event},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal alert stream message", "alert_id", alert.ID, "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warnw("Alert stream buffer full, dropping alert", "alert_id", alert.ID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every client and waits for the event loop to exit
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// readPump discards client messages and detects disconnection
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("Alert stream unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive with pings.
// Each alert is written as its own text frame.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// checkOrigin accepts same-origin requests, requests without an Origin
// header and the configured allowed origins
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.config.API.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// alertStream upgrades the request and streams alert.created messages
func (a *API) alertStream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Alert stream not available", nil, a.logger)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("Alert stream upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  a.hub,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
	}
	select {
	case a.hub.register <- c:
	case <-a.hub.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
