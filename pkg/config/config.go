package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type AppConfig struct {
	Addr string `mapstructure:"addr"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// UpstreamConfig describes the exchange feed connection. The ticker field
// names are configuration because the schema is upstream-specific: the
// defaults match Binance's @ticker stream (s/p/P).
type UpstreamConfig struct {
	URL            string        `mapstructure:"url"`
	Symbols        []string      `mapstructure:"symbols"`
	SymbolField    string        `mapstructure:"symbol_field"`
	PriceField     string        `mapstructure:"price_field"`
	ChangeField    string        `mapstructure:"change_field"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"` // 0 disables the liveness deadline
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type SinkConfig struct {
	Driver        string `mapstructure:"driver"` // "postgres", "redis" or "none"
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	HistoryLimit  int    `mapstructure:"history_limit"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults
	v.SetDefault("app.addr", ":3001")
	v.SetDefault("app.env", "local")

	v.SetDefault("log.level", "info")

	v.SetDefault("upstream.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("upstream.symbols", []string{"btcusdt", "ethusdt", "bnbusdt", "solusdt", "xrpusdt"})
	v.SetDefault("upstream.symbol_field", "s")
	v.SetDefault("upstream.price_field", "p")
	v.SetDefault("upstream.change_field", "P")
	v.SetDefault("upstream.read_timeout", "60s")
	v.SetDefault("upstream.reconnect_delay", "5s")

	v.SetDefault("sink.driver", "none")
	v.SetDefault("sink.postgres_dsn", "postgres://localhost:5432/cryptodash")
	v.SetDefault("sink.redis_addr", "localhost:6379")
	v.SetDefault("sink.redis_password", "")
	v.SetDefault("sink.redis_db", 0)
	v.SetDefault("sink.history_limit", 1000)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market.ticks")

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "upstream.url" -> "UPSTREAM_URL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// Crucial for Viper to map flat Env Vars (UPSTREAM_URL) to nested structs
	bindEnv(v, "app.addr", "app.env")
	bindEnv(v, "log.level")
	bindEnv(v, "upstream.url", "upstream.symbols", "upstream.symbol_field",
		"upstream.price_field", "upstream.change_field", "upstream.read_timeout",
		"upstream.reconnect_delay")
	bindEnv(v, "sink.driver", "sink.postgres_dsn", "sink.redis_addr",
		"sink.redis_password", "sink.redis_db", "sink.history_limit")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if cfg.Upstream.URL == "" {
		return nil, fmt.Errorf("upstream url cannot be empty")
	}
	if len(cfg.Upstream.Symbols) == 0 {
		return nil, fmt.Errorf("upstream symbols cannot be empty")
	}
	switch cfg.Sink.Driver {
	case "postgres", "redis", "none":
	default:
		return nil, fmt.Errorf("unknown sink driver %q (want postgres, redis or none)", cfg.Sink.Driver)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty when kafka is enabled")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
