package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/metrics"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/protocol"
	"github.com/cryptodash/ticker-relay/pkg/models"
)

// Subscriber is a downstream connection handle held by the hub.
type Subscriber interface {
	ID() string
	Send(b []byte) error
	Close()
}

// Hub owns the live set of downstream subscribers and fans every accepted
// tick out to all of them. Explicitly constructed (no package-level state)
// so multiple hubs can coexist in tests.
type Hub struct {
	mu          sync.Mutex
	subscribers map[Subscriber]bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]bool),
		logger:      logger,
		metrics:     m,
	}
}

// Register adds a subscriber to the active set. No replay of earlier ticks
// is sent: subscribers only see ticks emitted after they joined.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = true
	h.mu.Unlock()

	h.metrics.Subscribers.Inc()
	h.logger.Info("Subscriber connected", zap.String("id", sub.ID()))
}

// Unregister removes a subscriber from the active set and closes it.
func (h *Hub) Unregister(sub Subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()

	if present {
		h.metrics.Subscribers.Dec()
		h.logger.Info("Subscriber disconnected", zap.String("id", sub.ID()))
		sub.Close()
	}
}

// Broadcast delivers the tick to every subscriber present at broadcast
// time. Delivery is best-effort per connection: a failed send removes that
// one subscriber and never aborts delivery to the rest.
func (h *Hub) Broadcast(tick models.Tick) {
	msg, err := json.Marshal(protocol.Envelope{
		Event: protocol.EventPriceUpdate,
		Data: protocol.PriceUpdate{
			Symbol:    tick.Symbol,
			Price:     tick.Price,
			Change24h: tick.Change24h,
		},
	})
	if err != nil {
		h.logger.Error("Tick marshal error", zap.Error(err))
		return
	}

	h.mu.Lock()
	var failed []Subscriber
	for sub := range h.subscribers {
		if err := sub.Send(msg); err != nil {
			h.logger.Warn("Dropping subscriber on send failure",
				zap.String("id", sub.ID()), zap.Error(err))
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		delete(h.subscribers, sub)
	}
	h.mu.Unlock()

	for _, sub := range failed {
		h.metrics.Subscribers.Dec()
		sub.Close()
	}
	h.metrics.Broadcasts.Inc()
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
