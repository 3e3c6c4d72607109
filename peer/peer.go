// Package peer implements the outbound side of server-to-server peering
// (spec §4.8): each declared peer gets a dedicated dialing goroutine that
// maintains a persistent WebSocket connection with exponential backoff, then
// hands the established connection to a server's I/O thread via
// server.Server.Adopt so its inbound traffic is processed exactly like any
// other connection.
package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wsmq-io/wsmq/internal/logging"
	"github.com/wsmq-io/wsmq/internal/socket"
	"github.com/wsmq-io/wsmq/wsconn"
)

// State is a Peer's position in its DISCONNECTED -> CONNECTING -> CONNECTED
// -> BACKOFF cycle. Unlike a client Connection, a Peer never reaches a
// terminal CLOSED state on its own. A failed dial or hand-off moves it to
// BACKOFF and the redial loop tries again; once a connection has been
// handed to the server it is not redialed, and a later drop of that
// connection leaves the state at CONNECTED until the Mesh context is
// cancelled.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Adopter is the subset of *server.Server a Peer needs: a place to hand off
// a successfully dialed connection. It is an interface rather than a direct
// dependency on the server package so that peer can be tested without
// spinning up epoll.
type Adopter interface {
	Adopt(sock *socket.Socket, leftover []byte, ctx interface{}) (uint64, error)
}

// Peer is one declared outbound connection to a sibling server.
type Peer struct {
	ID   uuid.UUID
	Host string
	Port int

	// ConnectFn dials and completes the WebSocket handshake, returning the
	// raw connection ready to read/write frames. Tests substitute a fake;
	// production callers pass a function wrapping wsconn.Dial.
	ConnectFn func(ctx context.Context) (*wsconn.Connection, error)

	logger *logging.Logger

	mu      sync.Mutex
	state   State
	backoff time.Duration
}

// New constructs a Peer for host:port. ConnectFn must be set before Start is
// called.
func New(host string, port int, connectFn func(ctx context.Context) (*wsconn.Connection, error), logger *logging.Logger) *Peer {
	if logger == nil {
		logger = logging.New(nil, logging.Disabled)
	}
	return &Peer{
		ID:        uuid.New(),
		Host:      host,
		Port:      port,
		ConnectFn: connectFn,
		logger:    logger,
		backoff:   initialBackoff,
	}
}

// State returns the peer's current connection state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Addr returns "host:port", used in log lines and as a map key by Mesh.
func (p *Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// connectOnce attempts a single dial+handshake, returning the established
// connection or an error. On success it resets the backoff delay.
func (p *Peer) connectOnce(ctx context.Context) (*wsconn.Connection, error) {
	p.setState(Connecting)
	conn, err := p.ConnectFn(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.backoff = initialBackoff
	p.mu.Unlock()
	p.setState(Connected)
	return conn, nil
}

// nextBackoff returns the current backoff delay and doubles it (capped at
// maxBackoff) for the following call, implementing the spec's 100ms->30s
// exponential schedule.
func (p *Peer) nextBackoff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.backoff
	p.backoff *= 2
	if p.backoff > maxBackoff {
		p.backoff = maxBackoff
	}
	return d
}
