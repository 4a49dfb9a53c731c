package sink

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/metrics"
)

// Breaker is the fail-open circuit breaker in front of a Sink: the first
// write failure disables every later call for the rest of the process
// lifetime. There is no re-probe; an explicit restart re-arms it. Loss of
// the durable mirror must never slow the broadcast path.
type Breaker struct {
	next    Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
	tripped atomic.Bool
}

var _ Sink = (*Breaker)(nil)

func NewBreaker(next Sink, logger *zap.Logger, m *metrics.Metrics) *Breaker {
	return &Breaker{next: next, logger: logger, metrics: m}
}

// Tripped reports whether the breaker has permanently disabled the sink.
func (b *Breaker) Tripped() bool {
	return b.tripped.Load()
}

func (b *Breaker) UpsertCurrentPrice(ctx context.Context, symbol string, price float64, change24h *float64) error {
	if b.tripped.Load() {
		return nil
	}
	if err := b.next.UpsertCurrentPrice(ctx, symbol, price, change24h); err != nil {
		b.trip("upsert", err)
		return nil
	}
	b.metrics.SinkWrites.Inc()
	return nil
}

func (b *Breaker) AppendPriceHistory(ctx context.Context, symbol string, price float64, observedAt time.Time) error {
	if b.tripped.Load() {
		return nil
	}
	if err := b.next.AppendPriceHistory(ctx, symbol, price, observedAt); err != nil {
		b.trip("append", err)
		return nil
	}
	b.metrics.SinkWrites.Inc()
	return nil
}

func (b *Breaker) Close() error {
	return b.next.Close()
}

func (b *Breaker) trip(op string, err error) {
	if b.tripped.Swap(true) {
		return
	}
	b.metrics.SinkTripped.Set(1)
	b.logger.Error("Sink write failed, disabling persistence for this process",
		zap.String("op", op), zap.Error(err))
}
