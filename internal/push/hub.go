// Package push fans workflow notifications out to a user's live connections.
package push

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message types published by the server.
const (
	TypeSetupState     = "setup.state"
	TypeAccountCreated = "account.created"
)

const defaultBuffer = 16

// Message is one notification delivered to a user.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Time time.Time       `json:"time"`
}

// NewMessage marshals data into a Message of the given type.
func NewMessage(typ string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: raw, Time: time.Now().UTC()}, nil
}

// Subscription receives the messages published to one user.
type Subscription struct {
	UserID string
	C      <-chan Message

	ch   chan Message
	hub  *Hub
	once sync.Once
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub routes messages to subscribers by user ID. Publishing never blocks:
// a subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Subscribe registers a new subscription for userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}

	h.logger.Debug("push subscriber added",
		zap.String("user_id", userID),
		zap.Int("subscribers", len(h.subs[userID])),
	)
	return sub
}

// Publish delivers msg to every subscription of userID and reports how many
// received it.
func (h *Hub) Publish(userID string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			h.logger.Warn("push subscriber lagging, message dropped",
				zap.String("user_id", userID),
				zap.String("type", msg.Type),
			)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sub.UserID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.UserID)
	}
	close(sub.ch)
}
