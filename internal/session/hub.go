package session

import (
	"sync"
	"time"

	"jobcard-backend/internal/models"
)

const (
	EventSignedIn  = "signed_in"
	EventWarning   = "session_warning"
	EventSignedOut = "signed_out"
	EventReload    = "session_reload"
)

type Event struct {
	Type             string           `json:"type"`
	At               time.Time        `json:"at"`
	User             *models.Identity `json:"user,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	LogoutAt         *time.Time       `json:"logout_at,omitempty"`
	SecondsRemaining int              `json:"seconds_remaining,omitempty"`
}

// Hub fans session events out to subscribers. A subscriber that is not
// keeping up misses events rather than stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
