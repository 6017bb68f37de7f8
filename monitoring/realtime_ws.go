package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type MessageType string

const (
	PredictionEvent MessageType = "prediction"
	ModelEvent      MessageType = "model"
	Heartbeat       MessageType = "heartbeat"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Message is the envelope every live-feed frame uses.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// ClientMessage is what subscribers may send: subscribe, unsubscribe, ping.
type ClientMessage struct {
	Type  string      `json:"type"`
	Topic MessageType `json:"topic"`
}

type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	clientID  string
	closeOnce sync.Once

	mu            sync.RWMutex
	subscriptions map[MessageType]bool
}

// wants reports whether the client should receive t. A client with no
// subscriptions receives everything.
func (c *Client) wants(t MessageType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 || t == Heartbeat {
		return true
	}
	return c.subscriptions[t]
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

type outbound struct {
	typ     MessageType
	payload []byte
}

// WebSocketHub fans prediction and model events out to live-feed clients.
type WebSocketHub struct {
	clients   map[*Client]bool
	broadcast chan outbound
	mu        sync.RWMutex
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewWebSocketHub(logger *zap.Logger, allowedOrigins []string) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan outbound, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("ws"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Serve runs the fan-out loop until ctx is done. It satisfies
// suture.Service so the hub can be supervised.
func (h *WebSocketHub) Serve(ctx context.Context) error {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.typ) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// slow consumer
					client.close()
					delete(h.clients, client)
					WebSocketClients.Dec()
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
				WebSocketClients.Dec()
			}
			h.mu.Unlock()
			return nil
		}
	}
}

func (h *WebSocketHub) String() string { return "websocket-hub" }

func (h *WebSocketHub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	WebSocketClients.Inc()
	h.logger.Debug("client connected", zap.String("client_id", c.clientID), zap.Int("total", n))
}

func (h *WebSocketHub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		WebSocketClients.Dec()
		h.logger.Debug("client disconnected", zap.String("client_id", c.clientID), zap.Int("total", n))
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and blocks reading from the client
// until it disconnects.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		clientID:      uuid.NewString(),
		subscriptions: make(map[MessageType]bool),
	}
	h.addClient(client)

	go client.writePump(h.logger)
	client.readPump(h)
}

// Publish wraps data in a Message and queues it for broadcast. It never
// blocks; when the queue is full the message is dropped.
func (h *WebSocketHub) Publish(t MessageType, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", t, err)
	}
	payload, err := json.Marshal(Message{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      raw,
		ID:        uuid.NewString(),
	})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- outbound{typ: t, payload: payload}:
		return nil
	default:
		h.logger.Warn("websocket broadcast queue is full, dropping message", zap.String("type", string(t)))
		return nil
	}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
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
				logger.Debug("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
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

func (c *Client) readPump(h *WebSocketHub) {
	defer func() {
		h.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("failed to parse client message", zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	}
}
