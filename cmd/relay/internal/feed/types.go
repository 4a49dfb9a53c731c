package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptodash/ticker-relay/pkg/models"
)

// Conn abstracts the upstream WebSocket connection for deterministic testing.
// *websocket.Conn satisfies it directly.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer abstracts the upstream dial step
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// TickHandler receives every normalized tick in arrival order
type TickHandler func(tick models.Tick)

// TickStream is one upstream session: Run blocks until the socket dies or
// the context is cancelled.
type TickStream interface {
	Run(ctx context.Context) error
}

// for deterministic timestamps
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// GorillaDialer is the production Dialer
type GorillaDialer struct {
	dialer *websocket.Dialer
}

func NewDialer() *GorillaDialer {
	return &GorillaDialer{dialer: websocket.DefaultDialer}
}

func (g *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
