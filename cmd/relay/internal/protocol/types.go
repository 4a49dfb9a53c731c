package protocol

// EventPriceUpdate is the only event the relay pushes to subscribers.
// Clients are passive: they connect, receive price-update events, and
// disconnect. There is no request/response cycle.
const EventPriceUpdate = "price-update"

type PriceUpdate struct {
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Change24h *float64 `json:"change24h"`
}

// Envelope wraps a payload with its event name on the downstream channel
type Envelope struct {
	Event string      `json:"event"`
	Data  PriceUpdate `json:"data"`
}
