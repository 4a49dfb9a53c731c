package feed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/feed"
	"github.com/cryptodash/ticker-relay/cmd/relay/internal/testutils"
)

// scriptedStream runs until its err is emitted or the context ends
type scriptedStream struct {
	err   error
	block bool
}

func (s *scriptedStream) Run(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

// stateRecorder captures every supervisor transition
type stateRecorder struct {
	mu     sync.Mutex
	states []feed.State
}

func (r *stateRecorder) record(s feed.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []feed.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feed.State(nil), r.states...)
}

func (r *stateRecorder) waitFor(t *testing.T, want feed.State, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		seen := 0
		for _, s := range r.snapshot() {
			if s == want {
				seen++
			}
		}
		if seen >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for state %v x%d; saw %v", want, count, r.snapshot())
}

func TestSupervisor_ReconnectCycle(t *testing.T) {
	recorder := &stateRecorder{}

	streams := []feed.TickStream{
		&scriptedStream{err: errors.New("upstream closed")},
		&scriptedStream{block: true},
	}
	var mu sync.Mutex
	connects := 0

	s := feed.NewSupervisor(feed.SupervisorConfig{
		Connect: func(ctx context.Context) (feed.TickStream, error) {
			mu.Lock()
			defer mu.Unlock()
			stream := streams[0]
			if len(streams) > 1 {
				streams = streams[1:]
			}
			connects++
			return stream, nil
		},
		Delay:         10 * time.Millisecond,
		Logger:        zap.NewNop(),
		Metrics:       testutils.NewMetrics(),
		OnStateChange: recorder.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	recorder.waitFor(t, feed.StateReconnecting, 1)
	recorder.waitFor(t, feed.StateOpen, 2) // back open on the second stream

	// Transition order: Connecting, Open, Reconnecting, Connecting, Open
	states := recorder.snapshot()
	want := []feed.State{feed.StateConnecting, feed.StateOpen, feed.StateReconnecting, feed.StateConnecting, feed.StateOpen}
	for i, w := range want {
		if i >= len(states) || states[i] != w {
			t.Fatalf("Expected transition sequence %v, got %v", want, states)
		}
	}

	mu.Lock()
	if connects != 2 {
		t.Errorf("Expected a brand-new client per cycle (2 connects), got %d", connects)
	}
	mu.Unlock()

	cancel()
	<-done
	if s.State() != feed.StateClosed {
		t.Errorf("Expected closed state after cancellation, got %v", s.State())
	}
}

func TestSupervisor_NeverGivesUpOnConnectFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	s := feed.NewSupervisor(feed.SupervisorConfig{
		Connect: func(ctx context.Context) (feed.TickStream, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, errors.New("connection refused")
		},
		Delay:   time.Millisecond,
		Logger:  zap.NewNop(),
		Metrics: testutils.NewMetrics(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected at least 5 connect attempts, got %d", n)
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestSupervisor_CancelDuringBackoff(t *testing.T) {
	s := feed.NewSupervisor(feed.SupervisorConfig{
		Connect: func(ctx context.Context) (feed.TickStream, error) {
			return nil, errors.New("connection refused")
		},
		Delay:   time.Hour,
		Logger:  zap.NewNop(),
		Metrics: testutils.NewMetrics(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Supervisor did not exit promptly on cancellation during backoff")
	}
}
