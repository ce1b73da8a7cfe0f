package hub

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongDelay is how long a client may stay silent before it is dropped.
	pongDelay = 90 * time.Second
	// pingPeriod must be shorter than pongDelay.
	pingPeriod = (pongDelay * 9) / 10

	// DefaultSendQueueSize is the number of frames buffered per client.
	DefaultSendQueueSize = 64
)

// Config holds configuration for a Hub.
type Config struct {
	Name          string `mapstructure:"name"`
	SendQueueSize int    `mapstructure:"send_queue_size"`
}

// Hub fans broadcast envelopes out to connected websocket clients.
// It implements notify.Broadcaster.
type Hub struct {
	name      string
	audience  string
	tokens    *TokenIssuer
	queueSize int
	upgrader  websocket.Upgrader
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub that accepts tokens issued for conn's client URL.
func NewHub(cfg Config, conn ConnectionString, tokens *TokenIssuer, logger zerolog.Logger) (*Hub, error) {
	if tokens == nil {
		return nil, errors.New("token issuer cannot be nil")
	}
	if cfg.Name == "" {
		return nil, errors.New("hub name is required")
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	return &Hub{
		name:      strings.ToLower(cfg.Name),
		audience:  conn.ClientURL(cfg.Name),
		tokens:    tokens,
		queueSize: cfg.SendQueueSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "Hub").Str("hub", cfg.Name).Logger(),
		clients: make(map[*client]struct{}),
	}, nil
}

// accessToken reads the token from the query string or a bearer header.
func accessToken(r *http.Request) string {
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// ServeHTTP upgrades an authorized request to a hub connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if hubName := r.URL.Query().Get("hub"); hubName != "" && strings.ToLower(hubName) != h.name {
		http.Error(w, "unknown hub", http.StatusNotFound)
		return
	}
	subject, err := h.tokens.Validate(accessToken(r), h.audience)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected hub connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Problem initiating websocket")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: subject,
		conn:   conn,
		send:   make(chan []byte, h.queueSize),
		hub:    h,
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closing"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Info().Str("client_id", c.id).Str("user_id", subject).Msg("Client connected")

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes c and closes its queue. It reports whether c was still registered.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

// Broadcast writes msg as one text frame to every connected client. A client
// whose queue is full is disconnected.
func (h *Hub) Broadcast(ctx context.Context, msg *types.BroadcastMessage) error {
	if msg == nil {
		return errors.New("cannot broadcast a nil message")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := msg.Encode()
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	delivered := len(h.clients) - len(slow)
	h.mu.RUnlock()

	for _, c := range slow {
		if h.unregister(c) {
			h.logger.Warn().Str("client_id", c.id).Msg("Client send queue full, disconnecting")
		}
	}
	h.logger.Debug().Int("clients", delivered).Int("arguments", len(msg.Arguments)).Msg("Broadcast queued")
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	h.logger.Info().Int("clients", len(clients)).Msg("Hub closed")
}

// client is one websocket connection.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// readPump discards client frames and keeps the read deadline fresh on pong.
// It returns when the connection fails or is closed.
func (c *client) readPump() {
	defer func() {
		if c.hub.unregister(c) {
			c.hub.logger.Info().Str("client_id", c.id).Msg("Client disconnected")
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongDelay))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongDelay))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// writePump drains the send queue and pings on a timer. A closed queue sends
// a close frame.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to write frame")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Debug().Err(err).Str("client_id", c.id).Msg("Failed to write ping")
				return
			}
		}
	}
}
