package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eduetl/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 64
)

// Commands a client may send
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandHeartbeat   = "heartbeat"
)

type command struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
}

// Client is a middleman between the websocket connection and the hub. A
// client receives events of every run until it subscribes to one.
type Client struct {
	hub         *Hub
	conn        Connection
	send        chan []byte
	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger

	mu    sync.RWMutex
	runID string
}

// NewClient wraps conn. traceID ties the client's logs to the upgrade request.
func NewClient(hub *Hub, conn Connection, traceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ID returns the client id
func (c *Client) ID() string {
	return c.id
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// wants reports whether an event of runID should reach this client.
// Events without a run id reach everyone.
func (c *Client) wants(runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID == "" || runID == "" || c.runID == runID
}

func (c *Client) subscribe(runID string) {
	c.mu.Lock()
	c.runID = runID
	c.mu.Unlock()
}

// ReadPump reads client commands until the connection fails. It
// unregisters the client on exit.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.context(), "Unexpected WebSocket close",
					slog.String("error", err.Error()))
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.logger.DebugContext(c.context(), "Ignoring malformed client message",
				slog.String("error", err.Error()))
			continue
		}

		switch cmd.Type {
		case CommandSubscribe:
			c.subscribe(cmd.RunID)
			c.logger.DebugContext(c.context(), "Client subscribed", slog.String("run_id", cmd.RunID))
			if cmd.RunID != "" {
				c.hub.prime(c, cmd.RunID)
			}
		case CommandUnsubscribe:
			c.subscribe("")
		case CommandHeartbeat:
		default:
			c.logger.DebugContext(c.context(), "Unknown client command", slog.String("type", cmd.Type))
		}
	}
}

// WritePump writes queued messages and keepalive pings. It returns when
// the hub closes the send channel or a write fails.
func (c *Client) WritePump() {
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
				c.logger.DebugContext(c.context(), "Error writing message to WebSocket",
					slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.context(), "Failed to send ping message",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
