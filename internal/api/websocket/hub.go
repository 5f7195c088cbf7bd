package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nextconvert/fxengine/internal/modules/jobs"
	"go.uber.org/zap"
)

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types sent to clients
const (
	TypeJobProgress  = "job:progress"
	TypeJobCompleted = "job:completed"
	TypeJobFailed    = "job:failed"
)

// Recorder receives connection metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordWebSocketConnection(connected bool)
	RecordWebSocketMessage(messageType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordWebSocketConnection(bool) {}
func (nopRecorder) RecordWebSocketMessage(string)  {}

// Client represents a WebSocket client
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans job updates out to the clients subscribed to each job
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader
	metrics    Recorder
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub. An origin list containing "*" accepts
// every origin.
func NewHub(allowedOrigins []string, recorder Recorder, logger *zap.Logger) *Hub {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    recorder,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
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

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.RecordWebSocketConnection(true)
			h.logger.Debug("Client connected", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.RecordWebSocketConnection(false)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", zap.Int("total_clients", total))
		}
	}
}

// HandleConnection handles a new WebSocket connection
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Dispatch forwards one job update, as published on jobs.ProgressChannel,
// to the clients subscribed to that job.
func (h *Hub) Dispatch(data []byte) {
	job, err := jobs.DeserializeJob(data)
	if err != nil || job.ID == "" {
		h.logger.Warn("Dropping malformed job update", zap.Error(err))
		return
	}

	msgType := TypeJobProgress
	switch job.Status {
	case jobs.StatusCompleted:
		msgType = TypeJobCompleted
	case jobs.StatusFailed:
		msgType = TypeJobFailed
	}

	if err := h.SendToJob(job.ID, msgType, json.RawMessage(data)); err != nil {
		h.logger.Warn("Failed to forward job update", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// SendToJob sends a message to all clients subscribed to a job
func (h *Hub) SendToJob(jobID string, msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msgBytes, err := json.Marshal(Message{Type: msgType, Payload: data})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.subscribed(jobID) {
			continue
		}
		select {
		case client.send <- msgBytes:
			h.metrics.RecordWebSocketMessage(msgType)
		default:
			// Client buffer full, skip
		}
	}

	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) subscribed(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[jobID] || c.subscriptions["*"]
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.logger.Error("WebSocket write error", zap.Error(err))
			return
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "subscribe":
		var payload struct {
			JobID string `json:"jobId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.JobID != "" {
			c.mu.Lock()
			c.subscriptions[payload.JobID] = true
			c.mu.Unlock()
			c.hub.logger.Debug("Client subscribed to job", zap.String("job_id", payload.JobID))
			c.reply(Message{Type: "subscribed", Payload: msg.Payload})
		}

	case "unsubscribe":
		var payload struct {
			JobID string `json:"jobId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			c.mu.Lock()
			delete(c.subscriptions, payload.JobID)
			c.mu.Unlock()
			c.hub.logger.Debug("Client unsubscribed from job", zap.String("job_id", payload.JobID))
		}

	case "ping":
		c.reply(Message{Type: "pong"})
	}
}

func (c *Client) reply(msg Message) {
	response, _ := json.Marshal(msg)
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- response:
	default:
	}
}
