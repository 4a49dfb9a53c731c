package publish

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

// KafkaWriter abstracts the output stream
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher mirrors accepted ticks onto a Kafka topic for consumers outside
// the WebSocket fan-out. Best-effort like the sink: write errors are logged
// and the broadcast path is unaffected.
type Publisher struct {
	writer KafkaWriter
	logger *zap.Logger
}

func NewPublisher(writer KafkaWriter, logger *zap.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

// NewWriter builds the production Kafka writer
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}

// Publish writes one tick, keyed by symbol so per-symbol order survives
// partitioning.
func (p *Publisher) Publish(ctx context.Context, tick models.Tick) {
	payload, err := json.Marshal(tick)
	if err != nil {
		p.logger.Error("Tick marshal error", zap.Error(err))
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: payload,
	}); err != nil {
		p.logger.Error("Kafka write error", zap.Error(err), zap.String("symbol", tick.Symbol))
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
