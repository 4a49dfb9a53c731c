package sink

import (
	"context"
	"time"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

// Sink mirrors the live feed into durable storage. Best-effort: the
// broadcast path never depends on these calls succeeding.
type Sink interface {
	// UpsertCurrentPrice is idempotent: repeated calls for the same symbol
	// overwrite the stored current value, creating the row if absent.
	UpsertCurrentPrice(ctx context.Context, symbol string, price float64, change24h *float64) error
	// AppendPriceHistory is append-only and never overwrites.
	AppendPriceHistory(ctx context.Context, symbol string, price float64, observedAt time.Time) error
	Close() error
}

// Store is the read side consumed by the HTTP API. Drivers that can serve
// reads implement it alongside Sink.
type Store interface {
	Tokens(ctx context.Context) ([]models.Token, error)
	PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PricePoint, error)
}

// NoopSink discards all writes; selected with SINK_DRIVER=none for
// feed-only operation and testing.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) UpsertCurrentPrice(context.Context, string, float64, *float64) error { return nil }
func (NoopSink) AppendPriceHistory(context.Context, string, float64, time.Time) error {
	return nil
}
func (NoopSink) Close() error { return nil }
