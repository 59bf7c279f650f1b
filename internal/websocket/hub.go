package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"eduetl/internal/infrastructure"
)

// Message types pushed to clients
const (
	TypeConnection = "connection"
	TypeError      = "error"
	// TypeRunSnapshot matches the event type the run broadcaster emits.
	TypeRunSnapshot = "run:snapshot"
)

const broadcastBuffer = 256

// Message is the envelope of every frame the hub sends
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// SnapshotSource returns the current view of a run, used to prime clients
// that subscribe to a run already in progress.
type SnapshotSource func(runID string) (interface{}, bool)

type envelope struct {
	eventType string
	runID     string
	payload   []byte
}

type directMessage struct {
	client  *Client
	payload []byte
}

// Hub maintains the set of active clients and fans run events out to them.
// Only the Run loop touches the client set and closes send channels.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}

	mu        sync.RWMutex
	running   bool
	count     int
	snapshots SnapshotSource

	logger  *slog.Logger
	metrics *Metrics
}

// NewHub creates a hub. A nil metrics records nothing.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBuffer),
		direct:     make(chan directMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
	}
}

// SetSnapshotSource installs the lookup used when a client subscribes
func (h *Hub) SetSnapshotSource(src SnapshotSource) {
	h.mu.Lock()
	h.snapshots = src
	h.mu.Unlock()
}

// Start runs the hub loop in the background
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.remove(ctx, client, "shutdown")
			}
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.metrics.connected(ctx)

			h.logger.InfoContext(client.context(), "Client registered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			h.deliver(ctx, client, TypeConnection, h.encode(Message{
				Type: TypeConnection,
				Data: map[string]string{
					"status":    "connected",
					"client_id": client.id,
				},
				TraceID: client.traceID,
			}))

		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(ctx, client, "closed")
			}

		case msg := <-h.direct:
			if h.clients[msg.client] {
				h.deliver(ctx, msg.client, TypeRunSnapshot, msg.payload)
			}

		case env := <-h.broadcast:
			delivered := 0
			for client := range h.clients {
				if !client.wants(env.runID) {
					continue
				}
				if h.deliver(ctx, client, env.eventType, env.payload) {
					delivered++
				}
			}
			h.logger.Debug("Broadcast delivered",
				slog.String("type", env.eventType),
				slog.String("run_id", env.runID),
				slog.Int("clients", delivered),
				slog.Int("size", len(env.payload)))
		}
	}
}

// deliver queues payload on the client or drops a client that cannot keep up.
func (h *Hub) deliver(ctx context.Context, client *Client, eventType string, payload []byte) bool {
	if payload == nil {
		return false
	}
	select {
	case client.send <- payload:
		h.metrics.sent(ctx, eventType, len(payload))
		return true
	default:
		h.logger.WarnContext(client.context(), "Client send buffer full, disconnecting",
			slog.String("client_id", client.id))
		h.remove(ctx, client, "slow")
		return false
	}
}

func (h *Hub) remove(ctx context.Context, client *Client, reason string) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))

	lifetime := time.Since(client.connectedAt)
	h.metrics.disconnected(ctx, lifetime, reason)
	h.logger.InfoContext(client.context(), "Client unregistered",
		slog.Int("total_clients", len(h.clients)),
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", lifetime))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) encode(msg Message) []byte {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling WebSocket message",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		return nil
	}
	return data
}

// BroadcastUpdate sends a run event to every client interested in runID
func (h *Hub) BroadcastUpdate(eventType, runID, status string, data interface{}) {
	payload := h.encode(Message{Type: eventType, RunID: runID, Status: status, Data: data})
	if payload == nil {
		return
	}

	select {
	case h.broadcast <- envelope{eventType: eventType, runID: runID, payload: payload}:
	case <-h.quit:
	default:
		h.logger.Warn("Broadcast queue full, dropping event",
			slog.String("type", eventType),
			slog.String("run_id", runID))
	}
}

// Register adds a client. It is a no-op once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// prime sends the current snapshot of runID to client only
func (h *Hub) prime(client *Client, runID string) {
	h.mu.RLock()
	src := h.snapshots
	h.mu.RUnlock()
	if src == nil {
		return
	}
	snapshot, ok := src(runID)
	if !ok {
		return
	}
	payload := h.encode(Message{Type: TypeRunSnapshot, RunID: runID, Data: snapshot})
	if payload == nil {
		return
	}
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Stop closes every client and waits for the hub loop to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}
