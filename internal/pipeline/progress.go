package pipeline

import "sync"

// Event is a progress notification emitted while a pipeline run is active.
type Event struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Pipeline stages, in order.
const (
	StageTranscribing = "transcribing"
	StageSlicing      = "slicing"
	StageSaving       = "saving"
	StageComplete     = "complete"
	StageFailed       = "failed"
)

// ProgressHub fans out pipeline events to any number of subscribers.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new listener. The returned channel is buffered; slow
// listeners drop events rather than blocking the pipeline.
func (h *ProgressHub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *ProgressHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers an event to all current subscribers.
func (h *ProgressHub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default: // Drop for slow consumers
		}
	}
}
