package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

const (
	tokenKeyPrefix   = "token:"
	historyKeyPrefix = "history:"
	symbolSetKey     = "tokens"
)

// RedisSink mirrors current prices as JSON values under token:<symbol> and
// keeps a capped per-symbol history list under history:<symbol>.
type RedisSink struct {
	client       *redis.Client
	historyLimit int64
}

var (
	_ Sink  = (*RedisSink)(nil)
	_ Store = (*RedisSink)(nil)
)

func NewRedisSink(ctx context.Context, client *redis.Client, historyLimit int) (*RedisSink, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sink: redis ping: %w", err)
	}
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &RedisSink{client: client, historyLimit: int64(historyLimit)}, nil
}

type historyEntry struct {
	Price float64   `json:"price"`
	TS    time.Time `json:"ts"`
}

func (s *RedisSink) UpsertCurrentPrice(ctx context.Context, symbol string, price float64, change24h *float64) error {
	token := models.Token{
		Symbol:    symbol,
		Name:      strings.ToUpper(symbol),
		Price:     price,
		Change24h: change24h,
		UpdatedAt: time.Now(),
	}

	// Preserve a seeded display name if the row already exists
	if prev, err := s.client.Get(ctx, tokenKeyPrefix+symbol).Result(); err == nil {
		var existing models.Token
		if json.Unmarshal([]byte(prev), &existing) == nil && existing.Name != "" {
			token.Name = existing.Name
		}
	} else if err != redis.Nil {
		return err
	}

	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, tokenKeyPrefix+symbol, payload, 0)
	pipe.SAdd(ctx, symbolSetKey, symbol)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSink) AppendPriceHistory(ctx context.Context, symbol string, price float64, observedAt time.Time) error {
	payload, err := json.Marshal(historyEntry{Price: price, TS: observedAt})
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, historyKeyPrefix+symbol, payload)
	pipe.LTrim(ctx, historyKeyPrefix+symbol, -s.historyLimit, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Tokens(ctx context.Context) ([]models.Token, error) {
	symbols, err := s.client.SMembers(ctx, symbolSetKey).Result()
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	sort.Strings(symbols)

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = tokenKeyPrefix + sym
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var tokens []models.Token
	for _, val := range values {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var t models.Token
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (s *RedisSink) PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PricePoint, error) {
	entries, err := s.client.LRange(ctx, historyKeyPrefix+symbol, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	var points []models.PricePoint
	for _, raw := range entries {
		var e historyEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		points = append(points, models.PricePoint{Symbol: symbol, Price: e.Price, Timestamp: e.TS})
	}
	return points, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
