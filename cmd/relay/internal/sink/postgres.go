package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

// PostgresSink mirrors ticks into two tables: tokens (current price per
// symbol) and price_history (append-only observations).
type PostgresSink struct {
	pool *pgxpool.Pool
}

var (
	_ Sink  = (*PostgresSink)(nil)
	_ Store = (*PostgresSink)(nil)
)

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sink: postgres ping: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// EnsureSchema creates the mirror tables when missing
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			symbol     TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			price      DOUBLE PRECISION NOT NULL,
			change24h  DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id     BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			price  DOUBLE PRECISION NOT NULL,
			ts     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS price_history_symbol_ts ON price_history (symbol, ts)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sink: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertCurrentPrice overwrites the stored current value for the symbol.
// A row created by the relay uses the uppercased symbol as its display
// name; names set by seeding are preserved on update.
func (s *PostgresSink) UpsertCurrentPrice(ctx context.Context, symbol string, price float64, change24h *float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (symbol, name, price, change24h, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (symbol) DO UPDATE
		 SET price = EXCLUDED.price, change24h = EXCLUDED.change24h, updated_at = now()`,
		symbol, strings.ToUpper(symbol), price, change24h)
	return err
}

func (s *PostgresSink) AppendPriceHistory(ctx context.Context, symbol string, price float64, observedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (symbol, price, ts) VALUES ($1, $2, $3)`,
		symbol, price, observedAt)
	return err
}

func (s *PostgresSink) Tokens(ctx context.Context) ([]models.Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, price, change24h, updated_at FROM tokens ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var t models.Token
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Price, &t.Change24h, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *PostgresSink) PriceHistory(ctx context.Context, symbol string, limit int) ([]models.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price, ts FROM price_history WHERE symbol = $1 ORDER BY ts ASC LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Symbol, &p.Price, &p.Timestamp); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// seedTokens matches the reference data set shipped with the dashboard
var seedTokens = []models.Token{
	{Symbol: "btcusdt", Name: "Bitcoin", Price: 40000, Change24h: floatPtr(0.5)},
	{Symbol: "ethusdt", Name: "Ethereum", Price: 3500, Change24h: floatPtr(1.2)},
	{Symbol: "bnbusdt", Name: "Binance Coin", Price: 784, Change24h: floatPtr(0.2)},
	{Symbol: "solusdt", Name: "Solana", Price: 150, Change24h: floatPtr(-0.5)},
	{Symbol: "xrpusdt", Name: "Ripple", Price: 0.5, Change24h: floatPtr(-1.0)},
}

// Seed inserts the reference tokens and one initial history row each.
// Existing token rows are left untouched.
func (s *PostgresSink) Seed(ctx context.Context) error {
	for _, t := range seedTokens {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO tokens (symbol, name, price, change24h, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (symbol) DO NOTHING`,
			t.Symbol, t.Name, t.Price, t.Change24h); err != nil {
			return fmt.Errorf("sink: seed %s: %w", t.Symbol, err)
		}
		if err := s.AppendPriceHistory(ctx, t.Symbol, t.Price, time.Now()); err != nil {
			return fmt.Errorf("sink: seed history %s: %w", t.Symbol, err)
		}
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

func floatPtr(f float64) *float64 { return &f }
