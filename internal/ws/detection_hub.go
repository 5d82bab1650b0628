package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"facewatch/internal/pipeline"
)

// client serializes writes to one connection.
type client struct {
	conn       *websocket.Conn
	source     string // empty receives every source
	withFrames bool
	mu         sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

// DetectionHub fans scan events out to websocket clients.
type DetectionHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub() *DetectionHub {
	return &DetectionHub{clients: make(map[*client]bool)}
}

// Attach subscribes the hub to bus and returns the unsubscribe function.
func (h *DetectionHub) Attach(bus *pipeline.EventBus) func() {
	return bus.Subscribe(h)
}

func (h *DetectionHub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client registered (source %q, total: %d)", c.source, n)
}

func (h *DetectionHub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		log.Printf("[WS] Client unregistered")
	}
}

// OnEvent broadcasts ev to every client interested in its source.
func (h *DetectionHub) OnEvent(ev *pipeline.Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.source == "" || c.source == ev.Source {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	var plain, framed []byte
	for _, c := range targets {
		data, err := h.encode(ev, c.withFrames, &plain, &framed)
		if err != nil {
			log.Printf("[WS] Error marshaling scan message: %v", err)
			return
		}
		if err := c.write(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(c)
		}
	}
}

// encode marshals each message variant at most once per event.
func (h *DetectionHub) encode(ev *pipeline.Event, withFrame bool, plain, framed *[]byte) ([]byte, error) {
	cache := plain
	if withFrame {
		cache = framed
	}
	if *cache != nil {
		return *cache, nil
	}
	data, err := json.Marshal(NewScanMessage(ev, withFrame))
	if err != nil {
		return nil, err
	}
	*cache = data
	return data, nil
}

// ClientCount returns the total number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
