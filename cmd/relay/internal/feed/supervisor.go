package feed

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cryptodash/ticker-relay/cmd/relay/internal/metrics"
)

// State is the upstream connection state owned by the supervisor
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectFunc builds a fresh upstream session. Each reconnect cycle
// constructs a brand-new client; nothing is reused across cycles.
type ConnectFunc func(ctx context.Context) (TickStream, error)

// SupervisorConfig wires a Supervisor
type SupervisorConfig struct {
	Connect ConnectFunc
	// Delay between losing the upstream and the next connect attempt
	Delay   time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// OnStateChange, when set, observes every transition
	OnStateChange func(State)
}

// Supervisor keeps the upstream session alive forever. It retries at a
// fixed interval with no attempt cap, and it never touches the downstream
// subscriber set: during an outage subscribers simply stop receiving
// updates until the feed is restored.
type Supervisor struct {
	cfg   SupervisorConfig
	state atomic.Int32
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Delay <= 0 {
		cfg.Delay = 5 * time.Second
	}
	s := &Supervisor{cfg: cfg}
	s.state.Store(int32(StateConnecting))
	return s
}

// State reports the current upstream connection state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(next State) {
	s.state.Store(int32(next))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		s.setState(StateConnecting)
		stream, err := s.cfg.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return
			}
			s.cfg.Logger.Error("Upstream connect failed", zap.Error(err))
			if !s.backoff(ctx) {
				return
			}
			continue
		}

		s.setState(StateOpen)
		err = stream.Run(ctx)
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return
		}
		s.cfg.Logger.Warn("Upstream connection lost", zap.Error(err))
		if !s.backoff(ctx) {
			return
		}
	}
}

// backoff waits out the reconnect delay; false means ctx was cancelled.
func (s *Supervisor) backoff(ctx context.Context) bool {
	s.setState(StateReconnecting)
	s.cfg.Metrics.Reconnects.Inc()

	timer := time.NewTimer(s.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.setState(StateClosed)
		return false
	case <-timer.C:
		return true
	}
}
