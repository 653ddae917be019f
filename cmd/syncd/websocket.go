// Package main provides the WebSocket wake-up channel for connected devices.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pantryware/pantrysync/internal/logging"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients authenticate at a higher layer; the socket only carries
		// wake-up hints.
		return true
	},
}

// WSClient represents one connected device.
type WSClient struct {
	deviceID string
	conn     *websocket.Conn
	send     chan []byte
	hub      *WSHub
}

// WSHub tracks connected devices by device ID and delivers change wake-ups.
// It implements the coordinator's notifier port: delivery is best-effort, the
// queue remains the durable source of truth, so a missing or slow client is
// simply skipped.
type WSHub struct {
	clients    map[string]*WSClient
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

const (
	// EventChangeAvailable tells a device that a queue item is waiting and
	// it should pull.
	EventChangeAvailable = "sync.change_available"
)

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// A reconnect replaces the previous socket for the device.
			if prev, ok := h.clients[client.deviceID]; ok {
				close(prev.send)
			}
			h.clients[client.deviceID] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("Device connected",
				map[string]interface{}{"device_id": client.deviceID, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.deviceID]; ok && cur == client {
				delete(h.clients, client.deviceID)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("Device disconnected",
				map[string]interface{}{"device_id": client.deviceID, "total": total})
		}
	}
}

// Notify implements the coordinator's notifier port. Never blocks: a full
// send buffer means the device will catch up on its next pull.
func (h *WSHub) Notify(deviceID string, summary syncpkg.ChangeSummary) {
	envelope := WSEnvelope{
		Type:      EventChangeAvailable,
		Data:      summary,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal wake-up message", err, nil)
		return
	}

	h.mu.RLock()
	client, ok := h.clients[deviceID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case client.send <- bytes:
	default:
		logging.Warn("Wake-up dropped, client send buffer full",
			map[string]interface{}{"device_id": deviceID})
	}
}

// readPump pumps messages from the WebSocket connection. Inbound traffic is
// only keepalive; clients talk to the REST API for everything else.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error",
					map[string]interface{}{"device_id": c.deviceID, "error": err.Error()})
			}
			break
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades GET /ws?device_id connections.
func HandleWebSocket(hub *WSHub, registry syncpkg.DeviceRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.URL.Query().Get("device_id")
		if deviceID == "" {
			http.Error(w, "device_id is required", http.StatusBadRequest)
			return
		}

		device, err := registry.GetDevice(r.Context(), deviceID)
		if err != nil || !device.IsActive {
			http.Error(w, "unknown or inactive device", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("Failed to upgrade WebSocket", err,
				map[string]interface{}{"device_id": deviceID})
			return
		}

		client := &WSClient{
			deviceID: deviceID,
			conn:     conn,
			send:     make(chan []byte, 256),
			hub:      hub,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
