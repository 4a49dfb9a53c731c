package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/metrics"
)

// subscribeID is the fixed request id of the one subscription message sent
// per successful open.
const subscribeID = 1

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// ClientConfig describes one upstream session
type ClientConfig struct {
	URL     string
	Symbols []string
	// ReadTimeout bounds the gap between inbound frames; a silently stalled
	// socket trips it and surfaces as a read error. 0 disables.
	ReadTimeout time.Duration
}

// Client owns exactly one logical subscription to the upstream feed. It
// holds no retry policy: socket errors end Run and the supervisor decides
// what happens next.
type Client struct {
	conn    Conn
	cfg     ClientConfig
	norm    *Normalizer
	onTick  TickHandler
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ TickStream = (*Client)(nil)

// Dial opens the upstream socket and sends the subscription control message
// naming all configured symbols.
func Dial(ctx context.Context, d Dialer, cfg ClientConfig, norm *Normalizer, onTick TickHandler, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	conn, err := d.Dial(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed: dial %s: %w", cfg.URL, err)
	}

	params := make([]string, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		params = append(params, symbol+"@ticker")
	}
	if err := conn.WriteJSON(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: subscribeID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feed: subscribe: %w", err)
	}

	logger.Info("Connected to upstream feed",
		zap.String("url", cfg.URL), zap.Strings("symbols", cfg.Symbols))

	return &Client{
		conn:    conn,
		cfg:     cfg,
		norm:    norm,
		onTick:  onTick,
		logger:  logger,
		metrics: m,
	}, nil
}

// Run reads frames until the socket dies or ctx is cancelled. Every text
// frame goes through the normalizer; rejected frames are dropped without
// surfacing an error. Frames are processed strictly in arrival order.
func (c *Client) Run(ctx context.Context) error {
	defer c.conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close() // unblock the read
		case <-done:
		}
	}()

	for {
		if c.cfg.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		tick, ok := c.norm.Normalize(raw)
		if !ok {
			c.metrics.FramesDropped.Inc()
			continue
		}
		c.metrics.TicksReceived.Inc()
		c.onTick(tick)
	}
}
