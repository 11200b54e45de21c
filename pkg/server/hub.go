// Websocket push hub for the knitterd daemon
//
// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"knitterd/pkg/kniterr"
	"knitterd/pkg/log"
)

const (
	wsReadLimit     = 512 * 1024
	wsReadTimeout   = 60 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsSendQueueSize = 64
)

// Hub tracks connected websocket clients and fans broadcasts out to
// them. Inbound messages are command envelopes executed against the
// control loop; the reply goes back to the sending client only, while
// status and error pushes reach every client via Broadcast.
type Hub struct {
	exec   Executor
	logger *log.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*wsClient
	nextID  int64
	count   atomic.Int32
}

// NewHub creates a hub executing inbound commands against exec.
func NewHub(exec Executor, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.GetLogger("ws")
	}
	return &Hub{
		exec:    exec,
		logger:  logger,
		clients: make(map[int64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetExecutor late-binds the executor. The hub is a collaborator of
// the controller and the controller executes the hub's inbound
// commands, so one of the two must be bound after construction. Must
// be called before the first client connects.
func (h *Hub) SetExecutor(exec Executor) {
	h.exec = exec
}

// ClientCount reports the number of connected push clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Broadcast marshals payload once and queues it on every connected
// client. Clients with a full send queue drop the message rather than
// stall the caller.
func (h *Hub) Broadcast(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broadcast marshal failed: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.send(data)
	}
}

// CloseAll disconnects every client. Used during daemon shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[int64]*wsClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.count.Store(0)
}

// ServeHTTP upgrades the request and runs the client pumps. The read
// pump blocks until the connection drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&h.nextID, 1),
		hub:    h,
		conn:   conn,
		sendCh: make(chan []byte, wsSendQueueSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.count.Add(1)
	h.logger.Info("client %d connected from %s", c.id, r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()

	if present {
		h.count.Add(-1)
		h.logger.Info("client %d disconnected", c.id)
	}
}

type wsClient struct {
	id     int64
	hub    *Hub
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) send(data []byte) {
	select {
	case c.sendCh <- data:
	case <-c.done:
	default:
		c.hub.logger.Warn("dropping message to client %d (queue full)", c.id)
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("client %d read error: %v", c.id, err)
			}
			return
		}

		res := c.hub.exec.Execute(message)
		if res.Err != nil {
			errReply := map[string]interface{}{
				"type":    "error",
				"message": res.Err.Error(),
			}
			if code, ok := kniterr.CodeOf(res.Err); ok {
				errReply["code"] = string(code)
			}
			c.reply(errReply)
			continue
		}
		if res.Payload != nil {
			c.reply(res.Payload)
		}
	}
}

func (c *wsClient) reply(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.hub.logger.Error("reply marshal failed: %v", err)
		return
	}
	c.send(data)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
