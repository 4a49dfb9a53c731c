package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // test CLIENT, like the production upstream dialer
	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/feed"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/gateway"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/hub"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/protocol"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/sink"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/testutils"
	"github.com/cryptodash/ticker-relay/pkg/models"
)

func startServer(t *testing.T, wsHub *hub.Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, zap.NewNop())
		client.Start()
	}))
	t.Cleanup(server.Close)
	return server
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { wsConn.Close() })
	return wsConn
}

func waitForSubscribers(t *testing.T, wsHub *hub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for wsHub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d subscribers, have %d", n, wsHub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readUpdate(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to receive broadcast: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("Broadcast is not an envelope: %v (%s)", err, msg)
	}
	return env
}

// The full pipeline: scripted upstream frames go through dial, subscribe,
// normalization, the sink breaker and the hub, out to two real WebSocket
// subscribers, across one upstream outage.
func TestEndToEnd_RelayAcrossReconnect(t *testing.T) {
	m := testutils.NewMetrics()
	wsHub := hub.NewHub(zap.NewNop(), m)
	server := startServer(t, wsHub)

	sub1 := connectWS(t, server.URL)
	sub2 := connectWS(t, server.URL)
	waitForSubscribers(t, wsHub, 2)

	// First upstream session delivers 3 ticks and dies; the second delivers
	// one more after the reconnect delay.
	conn1 := &testutils.FakeConn{Frames: [][]byte{
		[]byte(`{"s":"BTCUSDT","p":"42000.50","P":"1.25"}`),
		[]byte(`{"s":"ETHUSDT","p":"3500","P":"-0.4"}`),
		[]byte(`{"s":"BTCUSDT"}`), // malformed: no price, must not broadcast
		[]byte(`{"s":"BTCUSDT","p":"42001","P":"1.26"}`),
	}}
	conn2 := &testutils.FakeConn{Frames: [][]byte{
		[]byte(`{"s":"BTCUSDT","p":"42100","P":"1.30"}`),
	}}
	dialer := &testutils.FakeDialer{Conns: []*testutils.FakeConn{conn1, conn2}}

	mockSink := testutils.NewMockSink()
	breaker := sink.NewBreaker(mockSink, zap.NewNop(), m)
	normalizer := feed.NewNormalizer(feed.DefaultFieldMap, feed.RealClock{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onTick := func(tick models.Tick) {
		wsHub.Broadcast(tick)
		breaker.UpsertCurrentPrice(ctx, tick.Symbol, tick.Price, tick.Change24h)
		breaker.AppendPriceHistory(ctx, tick.Symbol, tick.Price, tick.ObservedAt)
	}

	supervisor := feed.NewSupervisor(feed.SupervisorConfig{
		Connect: func(ctx context.Context) (feed.TickStream, error) {
			return feed.Dial(ctx, dialer, feed.ClientConfig{
				URL:     "wss://example.test/ws",
				Symbols: []string{"btcusdt", "ethusdt"},
			}, normalizer, onTick, zap.NewNop(), m)
		},
		Delay:   20 * time.Millisecond,
		Logger:  zap.NewNop(),
		Metrics: m,
	})
	go supervisor.Run(ctx)

	wantPrices := []float64{42000.5, 3500, 42001, 42100}
	for _, sub := range []*websocket.Conn{sub1, sub2} {
		for i, price := range wantPrices {
			env := readUpdate(t, sub)
			if env.Event != protocol.EventPriceUpdate {
				t.Fatalf("Update %d: expected price-update event, got %q", i, env.Event)
			}
			if env.Data.Price != price {
				t.Fatalf("Update %d: expected price %v, got %v", i, price, env.Data.Price)
			}
		}
	}

	// Both subscribers survived the upstream outage.
	if wsHub.Len() != 2 {
		t.Errorf("Reconnect must not drop subscribers, have %d", wsHub.Len())
	}

	// One upsert and one history append per accepted tick.
	mockSink.Mu.Lock()
	defer mockSink.Mu.Unlock()
	if mockSink.Upserts != len(wantPrices) || mockSink.Appends != len(wantPrices) {
		t.Errorf("Expected %d upserts and appends, got %d/%d",
			len(wantPrices), mockSink.Upserts, mockSink.Appends)
	}
}

func TestEndToEnd_LateSubscriberGetsNoReplay(t *testing.T) {
	m := testutils.NewMetrics()
	wsHub := hub.NewHub(zap.NewNop(), m)
	server := startServer(t, wsHub)

	// A tick broadcast before anyone connects is simply gone.
	wsHub.Broadcast(models.Tick{Symbol: "btcusdt", Price: 42000})

	sub := connectWS(t, server.URL)
	waitForSubscribers(t, wsHub, 1)

	wsHub.Broadcast(models.Tick{Symbol: "btcusdt", Price: 42001})

	env := readUpdate(t, sub)
	if env.Data.Price != 42001 {
		t.Errorf("Late subscriber must only see ticks after joining, got %v", env.Data.Price)
	}
}

func TestEndToEnd_DisconnectRemovesSubscriber(t *testing.T) {
	m := testutils.NewMetrics()
	wsHub := hub.NewHub(zap.NewNop(), m)
	server := startServer(t, wsHub)

	sub := connectWS(t, server.URL)
	waitForSubscribers(t, wsHub, 1)

	sub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for wsHub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Disconnected subscriber was not removed, have %d", wsHub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
