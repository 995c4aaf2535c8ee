package events

import (
	"encoding/json"
	"sync"
)

const replaySize = 32

type published struct {
	id  string
	raw string
}

// Hub fans events out to SSE subscribers. Slow subscribers miss events
// rather than block publishers; a reconnecting client can catch up from the
// last few events with Since.
type Hub struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	recent  []published
	dropped int
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan string]struct{})}
}

func (h *Hub) Subscribe() chan string {
	ch := make(chan string, 10)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan string) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Publish(evt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, published{id: IDOf(evt), raw: evt})
	if len(h.recent) > replaySize {
		h.recent = h.recent[len(h.recent)-replaySize:]
	}
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			h.dropped++
		}
	}
}

// Since returns the retained events published after the event with id
// lastID, oldest first. An unknown id yields nothing: the client has been
// away too long and should reload instead.
func (h *Hub) Since(lastID string) []string {
	if lastID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.recent {
		if p.id != lastID {
			continue
		}
		out := make([]string, 0, len(h.recent)-i-1)
		for _, q := range h.recent[i+1:] {
			out = append(out, q.raw)
		}
		return out
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// IDOf pulls the envelope id out of a published event; non-envelope
// strings have none.
func IDOf(evt string) string {
	var e struct {
		ID string `json:"id"`
	}
	if json.Unmarshal([]byte(evt), &e) != nil {
		return ""
	}
	return e.ID
}
