package models

import "time"

// Tick represents a single normalized market update for a symbol
type Tick struct {
	Symbol     string    `json:"symbol"` // lowercase pair, e.g. "btcusdt"
	Price      float64   `json:"price"`
	Change24h  *float64  `json:"change24h"` // nil when upstream omits the percent field
	ObservedAt time.Time `json:"observed_at"`
}

// Token is the current-price row mirrored by the persistence sink
type Token struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Change24h *float64  `json:"change24h"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PricePoint is one append-only price history observation
type PricePoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
