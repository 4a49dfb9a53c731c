package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/feed"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/metrics"
	"github.com/cryptodash/ticker-relay/pkg/models"
)

// NewMetrics builds an isolated metrics set per test
func NewMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// MockSubscriber simulates a connected downstream client
type MockSubscriber struct {
	IDVal    string
	Received [][]byte
	FailSend bool
	Closed   bool
	Mu       sync.Mutex
}

func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{IDVal: id}
}

func (m *MockSubscriber) ID() string { return m.IDVal }

func (m *MockSubscriber) Send(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSend {
		return errors.New("mock send failure")
	}
	m.Received = append(m.Received, b)
	return nil
}

func (m *MockSubscriber) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockSubscriber) ReceivedCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Received)
}

// MockSink records sink calls in memory with upsert semantics, so tests can
// assert idempotency. FailNext forces the next write to error.
type MockSink struct {
	Current  map[string]float64
	History  []models.PricePoint
	Upserts  int
	Appends  int
	FailNext bool
	Mu       sync.Mutex
}

func NewMockSink() *MockSink {
	return &MockSink{Current: make(map[string]float64)}
}

func (m *MockSink) UpsertCurrentPrice(ctx context.Context, symbol string, price float64, change24h *float64) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return errors.New("mock sink failure")
	}
	m.Upserts++
	m.Current[symbol] = price
	return nil
}

func (m *MockSink) AppendPriceHistory(ctx context.Context, symbol string, price float64, observedAt time.Time) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return errors.New("mock sink failure")
	}
	m.Appends++
	m.History = append(m.History, models.PricePoint{Symbol: symbol, Price: price, Timestamp: observedAt})
	return nil
}

func (m *MockSink) Close() error { return nil }

func (m *MockSink) Writes() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Upserts + m.Appends
}

// FakeConn scripts an upstream connection: it replays Frames in order and
// then returns ErrAfter (a closed socket by default).
type FakeConn struct {
	Frames   [][]byte
	ErrAfter error

	Subscribed []interface{}
	Deadlines  int
	CloseCount int

	pos int
	mu  sync.Mutex
}

func (f *FakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.Frames) {
		err := f.ErrAfter
		if err == nil {
			err = errors.New("fake conn: closed")
		}
		return 0, nil, err
	}
	frame := f.Frames[f.pos]
	f.pos++
	return 1, frame, nil
}

func (f *FakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscribed = append(f.Subscribed, v)
	return nil
}

func (f *FakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deadlines++
	return nil
}

func (f *FakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCount++
	return nil
}

// FakeDialer returns scripted connections in sequence; once exhausted it
// keeps returning the last one. DialErr, when set, fails every dial.
type FakeDialer struct {
	Conns   []*FakeConn
	DialErr error

	Dials int
	mu    sync.Mutex
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (feed.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if len(d.Conns) == 0 {
		return nil, errors.New("fake dialer: no connections scripted")
	}
	idx := d.Dials - 1
	if idx >= len(d.Conns) {
		idx = len(d.Conns) - 1
	}
	return d.Conns[idx], nil
}

// MockKafkaWriter records published messages
type MockKafkaWriter struct {
	Messages []kafka.Message
	FailNext bool
	Mu       sync.Mutex
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailNext {
		m.FailNext = false
		return errors.New("mock kafka failure")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

// FixedClock always reports the same instant
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
