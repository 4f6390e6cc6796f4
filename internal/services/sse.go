package services

import (
	"sync"
	"time"

	"github.com/huangang/reviewiq/internal/metrics"
)

const EventReviewFinalized = "review.finalized"

// ReviewEvent is pushed to the real-time subscribers of one branch.
type ReviewEvent struct {
	Type      string        `json:"type"`
	BranchID  string        `json:"branchId"`
	Review    *ReviewResult `json:"review"`
	Timestamp time.Time     `json:"timestamp"`
}

type sseClient struct {
	branchID string
	ch       chan ReviewEvent
}

// SSEHub manages SSE client connections and branch-scoped broadcasting
type SSEHub struct {
	clients map[string]sseClient
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]sseClient),
	}
}

// Subscribe registers a client for one branch and returns its event channel
func (h *SSEHub) Subscribe(clientID, branchID string) <-chan ReviewEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan ReviewEvent, 100)
	if old, ok := h.clients[clientID]; ok {
		close(old.ch)
	}
	h.clients[clientID] = sseClient{branchID: branchID, ch: ch}
	metrics.SSEClients.Set(float64(len(h.clients)))
	return ch
}

// Unsubscribe removes a client from the hub
func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		close(c.ch)
		delete(h.clients, clientID)
	}
	metrics.SSEClients.Set(float64(len(h.clients)))
}

// Publish delivers an event to every subscriber of the event's branch and
// returns how many slow clients missed it.
func (h *SSEHub) Publish(event ReviewEvent) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.branchID != event.BranchID {
			continue
		}
		// Non-blocking send: a full buffer means the client is too slow
		select {
		case c.ch <- event:
		default:
			dropped++
		}
	}
	return dropped
}

// ClientCount returns the number of connected clients
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
