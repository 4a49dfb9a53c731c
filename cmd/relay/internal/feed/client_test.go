package feed_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/feed"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/testutils"
	"github.com/cryptodash/ticker-relay/pkg/models"
)

func dialClient(t *testing.T, conn *testutils.FakeConn, readTimeout time.Duration, onTick feed.TickHandler) *feed.Client {
	t.Helper()
	client, err := feed.Dial(context.Background(),
		&testutils.FakeDialer{Conns: []*testutils.FakeConn{conn}},
		feed.ClientConfig{
			URL:         "wss://example.test/ws",
			Symbols:     []string{"btcusdt", "ethusdt"},
			ReadTimeout: readTimeout,
		},
		newNormalizer(), onTick, zap.NewNop(), testutils.NewMetrics())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return client
}

func TestClient_SendsOneSubscriptionOnOpen(t *testing.T) {
	conn := &testutils.FakeConn{}
	dialClient(t, conn, 0, func(models.Tick) {})

	if len(conn.Subscribed) != 1 {
		t.Fatalf("Expected exactly one subscription message, got %d", len(conn.Subscribed))
	}
}

func TestClient_DeliversTicksInArrivalOrder(t *testing.T) {
	conn := &testutils.FakeConn{
		Frames: [][]byte{
			[]byte(`{"s":"BTCUSDT","p":"100","P":"1"}`),
			[]byte(`{"result":null,"id":1}`), // subscription ack, not a ticker
			[]byte(`{"s":"ETHUSDT","p":"200","P":"2"}`),
			[]byte(`not json at all`),
			[]byte(`{"s":"BTCUSDT","p":"101","P":"1"}`),
		},
	}

	var got []models.Tick
	client := dialClient(t, conn, 0, func(tick models.Tick) { got = append(got, tick) })

	if err := client.Run(context.Background()); err == nil {
		t.Fatal("Expected socket error once frames are exhausted")
	}

	want := []struct {
		symbol string
		price  float64
	}{
		{"btcusdt", 100}, {"ethusdt", 200}, {"btcusdt", 101},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d ticks, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Symbol != w.symbol || got[i].Price != w.price {
			t.Errorf("Tick %d: expected %s@%v, got %s@%v", i, w.symbol, w.price, got[i].Symbol, got[i].Price)
		}
	}
}

func TestClient_MalformedFramesNeverReachHandler(t *testing.T) {
	conn := &testutils.FakeConn{
		Frames: [][]byte{
			[]byte(`{{{`),
			[]byte(`{"s":"BTCUSDT"}`),
			[]byte(`{"p":"42"}`),
		},
	}

	calls := 0
	client := dialClient(t, conn, 0, func(models.Tick) { calls++ })
	client.Run(context.Background())

	if calls != 0 {
		t.Errorf("Expected zero handler calls for malformed frames, got %d", calls)
	}
}

func TestClient_ReadTimeoutArmsDeadline(t *testing.T) {
	conn := &testutils.FakeConn{Frames: [][]byte{[]byte(`{"s":"BTCUSDT","p":"1","P":"0"}`)}}
	client := dialClient(t, conn, 30*time.Second, func(models.Tick) {})
	client.Run(context.Background())

	if conn.Deadlines == 0 {
		t.Error("Expected read deadlines to be set when a read timeout is configured")
	}
}

func TestClient_ContextCancelStopsRun(t *testing.T) {
	conn := &testutils.FakeConn{}
	client := dialClient(t, conn, 0, func(models.Tick) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.Run(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
