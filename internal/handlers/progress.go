package handlers

import (
	"log"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/speaker-separator/internal/pipeline"
)

// ProgressHandler streams pipeline progress events over a WebSocket.
type ProgressHandler struct {
	hub *pipeline.ProgressHub
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(hub *pipeline.ProgressHub) *ProgressHandler {
	return &ProgressHandler{hub: hub}
}

// Handle subscribes the connection to the progress hub and forwards events
// until the client disconnects.
func (h *ProgressHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(events)

	// Drain reads so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				log.Printf("Progress WebSocket write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
