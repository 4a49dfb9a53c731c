package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/api"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/feed"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/gateway"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/hub"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/metrics"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/publish"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/sink"
	"github.com/cryptodash/ticker-relay/pkg/config"
	"github.com/cryptodash/ticker-relay/pkg/models"
)

func main() {
	seed := flag.Bool("seed", false, "seed the reference tokens into the sink and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence sink: capability selected at construction time, never
	// swapped at runtime.
	tickSink, store, err := buildSink(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build sink", zap.Error(err))
	}
	defer tickSink.Close()

	if *seed {
		pg, ok := tickSink.(*sink.PostgresSink)
		if !ok {
			logger.Fatal("Seeding requires the postgres sink driver")
		}
		if err := pg.Seed(ctx); err != nil {
			logger.Fatal("Seed failed", zap.Error(err))
		}
		logger.Info("Seed data created successfully")
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	breaker := sink.NewBreaker(tickSink, logger, m)
	wsHub := hub.NewHub(logger, m)

	var publisher *publish.Publisher
	if cfg.Kafka.Enabled {
		publisher = publish.NewPublisher(publish.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		defer publisher.Close()
	}

	// Broadcast first so a slow or failing mirror never delays the feed.
	onTick := func(tick models.Tick) {
		wsHub.Broadcast(tick)
		breaker.UpsertCurrentPrice(ctx, tick.Symbol, tick.Price, tick.Change24h)
		breaker.AppendPriceHistory(ctx, tick.Symbol, tick.Price, tick.ObservedAt)
		if publisher != nil {
			publisher.Publish(ctx, tick)
		}
	}

	dialer := feed.NewDialer()
	normalizer := feed.NewNormalizer(feed.FieldMap{
		Symbol: cfg.Upstream.SymbolField,
		Price:  cfg.Upstream.PriceField,
		Change: cfg.Upstream.ChangeField,
	}, feed.RealClock{}, logger)

	supervisor := feed.NewSupervisor(feed.SupervisorConfig{
		Connect: func(ctx context.Context) (feed.TickStream, error) {
			return feed.Dial(ctx, dialer, feed.ClientConfig{
				URL:         cfg.Upstream.URL,
				Symbols:     cfg.Upstream.Symbols,
				ReadTimeout: cfg.Upstream.ReadTimeout,
			}, normalizer, onTick, logger, m)
		},
		Delay:   cfg.Upstream.ReconnectDelay,
		Logger:  logger,
		Metrics: m,
	})
	go supervisor.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := api.NewHandler(store,
		func() string { return supervisor.State().String() },
		func() bool { return !breaker.Tripped() },
		logger)
	handler.Register(mux)

	srv := &http.Server{Addr: cfg.App.Addr, Handler: mux}

	go func() {
		logger.Info("Relay started", zap.String("addr", cfg.App.Addr),
			zap.Strings("symbols", cfg.Upstream.Symbols), zap.String("sink", cfg.Sink.Driver))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")
	cancel()
	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}

// buildSink constructs the configured sink driver and, when the driver has
// a read side, the store backing the HTTP API.
func buildSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sink.Sink, api.Store, error) {
	switch cfg.Sink.Driver {
	case "postgres":
		pg, err := sink.NewPostgresSink(ctx, cfg.Sink.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sink.RedisAddr,
			Password: cfg.Sink.RedisPassword,
			DB:       cfg.Sink.RedisDB,
		})
		rs, err := sink.NewRedisSink(ctx, client, cfg.Sink.HistoryLimit)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs, nil
	default:
		logger.Info("Persistence disabled, running feed-only")
		return sink.NoopSink{}, nil, nil
	}
}
