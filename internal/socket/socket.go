// Package socket implements the blocking, client-side TCP socket
// abstraction: host+port connect with an optional TLS handshake and timed
// read/write. The server's own non-blocking epoll sockets are opened
// directly via golang.org/x/sys/unix in the server package, since they need
// raw file descriptors for the event loop; this package only serves
// wsconn's single-threaded blocking client.
package socket

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Socket wraps a net.Conn with the timed read/write contract the spec's
// client connection needs: each call takes an explicit timeout rather than
// relying on a single connection-wide deadline.
type Socket struct {
	conn net.Conn
}

// Connect dials host:port, optionally performing a TLS handshake, within
// timeout. A zero timeout means no deadline.
func Connect(ctx context.Context, host string, port int, useTLS bool, tlsConfig *tls.Config, timeout time.Duration) (*Socket, error) {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "socket: connect")
	}
	if useTLS {
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: host}
		} else if cfg.ServerName == "" {
			clone := cfg.Clone()
			clone.ServerName = host
			cfg = clone
		}
		tconn := tls.Client(conn, cfg)
		hctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := tconn.HandshakeContext(hctx); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "socket: tls handshake")
		}
		conn = tconn
	}
	return &Socket{conn: conn}, nil
}

// ReadTimeout reads into p, failing if no data arrives within timeout. A
// zero timeout blocks indefinitely.
func (s *Socket) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := s.setDeadline(timeout); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err != nil {
		return n, errors.Wrap(err, "socket: read")
	}
	return n, nil
}

// WriteTimeout writes p, failing if the write cannot complete within
// timeout. A zero timeout blocks indefinitely.
func (s *Socket) WriteTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := s.setDeadline(timeout); err != nil {
		return 0, err
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "socket: write")
	}
	return n, nil
}

func (s *Socket) setDeadline(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	return s.conn.SetDeadline(deadline)
}

// IsTimeout reports whether err is a deadline-exceeded error from a
// previous ReadTimeout/WriteTimeout call.
func IsTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; e = errors.Unwrap(e) {
		if te, ok := e.(timeouter); ok {
			t = te
			break
		}
	}
	return t != nil && t.Timeout()
}

// Wrap adapts an already-established net.Conn, used by tests and by any
// caller that obtained a connection some other way than Connect.
func Wrap(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying net.Conn, e.g. for handing a peer connection's
// socket off to the server's epoll-based I/O loop after a successful
// outbound handshake.
func (s *Socket) Conn() net.Conn {
	return s.conn
}
