// Package wsconn implements the client side of a WebSocket connection: URI
// dial, HTTP/1.1 upgrade handshake, frame send/receive, message reassembly,
// and the close handshake. A Connection is single-threaded — like the
// teacher's own client-side NATS connection, it is not safe for concurrent
// use by more than one goroutine.
package wsconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/httpupgrade"
	"github.com/wsmq-io/wsmq/internal/logging"
	"github.com/wsmq-io/wsmq/internal/socket"
	"github.com/wsmq-io/wsmq/wsproto"
)

// State is a Connection's position in its DISCONNECTED -> CONNECTING ->
// HANDSHAKING -> OPEN -> CLOSING -> CLOSED lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by RecvFrame/RecvMessage once the connection has
// completed the close handshake, standing in for the spec's "recv returns
// None on close-initiated" contract.
var ErrClosed = errors.New("wsconn: connection closed")

// DialOptions configures Dial. A zero value dials with a 10-second timeout,
// a default TLS configuration for "wss" URIs, and a disabled logger.
type DialOptions struct {
	Timeout   time.Duration
	TLSConfig *tls.Config
	Logger    *logging.Logger
}

func (o DialOptions) withDefaults() DialOptions {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.New(nil, logging.Disabled)
	}
	return o
}

// Connection is a client-side WebSocket connection.
type Connection struct {
	sock    *socket.Socket
	ingress *buffer.Buffer
	timeout time.Duration
	state   State
	logger  *logging.Logger
	lastErr error
}

// Dial parses rawURL ("ws://host[:port][/path]" or "wss://..."), opens a
// TCP connection (with TLS for "wss"), and performs the RFC 6455 opening
// handshake. On success the returned Connection is in the Open state.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Connection, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "wsconn: parse uri")
	}

	var useTLS bool
	var defaultPort string
	switch u.Scheme {
	case "ws":
		useTLS, defaultPort = false, "80"
	case "wss":
		useTLS, defaultPort = true, "443"
	default:
		return nil, errors.Errorf("wsconn: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		portStr = defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrap(err, "wsconn: invalid port")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	c := &Connection{
		ingress: buffer.New(),
		timeout: opts.Timeout,
		state:   Connecting,
		logger:  opts.Logger,
	}

	c.logger.Thread("wsconn: dialing %s", rawURL)
	sock, err := socket.Connect(ctx, host, port, useTLS, opts.TLSConfig, opts.Timeout)
	if err != nil {
		c.state = Closed
		return nil, errors.Wrap(err, "wsconn: connect")
	}
	c.sock = sock

	c.state = Handshaking
	if err := c.handshake(host, port, path); err != nil {
		c.sock.Close()
		c.state = Closed
		c.lastErr = err
		return nil, err
	}

	c.state = Open
	c.logger.Thread("wsconn: handshake complete, connection open")
	return c, nil
}

func (c *Connection) handshake(host string, port int, path string) error {
	key := wsproto.NewClientKey()

	hostHeader := host
	if port != 80 {
		hostHeader = net.JoinHostPort(host, strconv.Itoa(port))
	}

	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\n"+
			"Host: %s\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Key: %s\r\n"+
			"Sec-WebSocket-Version: 13\r\n"+
			"\r\n",
		path, hostHeader, key)

	if _, err := c.sock.WriteTimeout([]byte(req), c.timeout); err != nil {
		return wsproto.WrapError(wsproto.ErrCodeSocket, "wsconn: write handshake request", err)
	}

	return c.readHandshakeResponse(key)
}

func (c *Connection) readHandshakeResponse(key string) error {
	buf := make([]byte, 4096)
	for {
		status, acceptKey, consumed, err := httpupgrade.ParseClientResponse(c.ingress.Bytes())
		if err == nil {
			c.ingress.Drain(consumed)
			if status != 101 {
				return wsproto.NewError(wsproto.ErrCodeProtocol, fmt.Sprintf("wsconn: handshake rejected with status %d", status))
			}
			want := wsproto.AcceptKey(key)
			if acceptKey != want {
				return wsproto.NewError(wsproto.ErrCodeProtocol, "wsconn: Sec-WebSocket-Accept mismatch")
			}
			return nil
		}
		if err != wsproto.ErrNeedMore {
			return err
		}
		n, rerr := c.sock.ReadTimeout(buf, c.timeout)
		if n > 0 {
			c.ingress.Append(buf[:n])
		}
		if rerr != nil {
			return wsproto.WrapError(wsproto.ErrCodeSocket, "wsconn: read handshake response", rerr)
		}
		if n == 0 {
			return wsproto.NewError(wsproto.ErrCodeSocket, "wsconn: connection closed during handshake")
		}
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	return c.state
}

// SetTimeout changes the timeout used by subsequent Send/Recv calls, e.g.
// to give a single RPC exchange a tighter or looser deadline than the
// connection's dial-time default.
func (c *Connection) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Timeout returns the timeout currently applied to Send/Recv calls.
func (c *Connection) Timeout() time.Duration {
	return c.timeout
}

// LastError returns the most recent error recorded by the connection, or
// nil.
func (c *Connection) LastError() error {
	return c.lastErr
}

// SendFrame encodes and writes f. The mask bit and a fresh mask are always
// applied, since every frame a client sends must be masked per RFC 6455.
func (c *Connection) SendFrame(f *wsproto.Frame) error {
	if c.state != Open && c.state != Closing {
		return wsproto.NewError(wsproto.ErrCodeState, "wsconn: send on a connection that is not open")
	}
	f.Masked = true
	f.Mask = wsproto.NewMask()
	wire := wsproto.Encode(f)
	if _, err := c.sock.WriteTimeout(wire, c.timeout); err != nil {
		c.lastErr = err
		return wsproto.WrapError(wsproto.ErrCodeSocket, "wsconn: write frame", err)
	}
	return nil
}

// SendText sends s as a single-frame TEXT message.
func (c *Connection) SendText(s string) error {
	return c.SendFrame(&wsproto.Frame{Fin: true, Opcode: wsproto.OpText, Payload: []byte(s)})
}

// SendBinary sends b as a single-frame BINARY message.
func (c *Connection) SendBinary(b []byte) error {
	return c.SendFrame(&wsproto.Frame{Fin: true, Opcode: wsproto.OpBinary, Payload: b})
}

// RecvFrame decodes and returns the next frame from the ingress buffer,
// reading more from the socket as needed up to the connection's timeout. It
// returns ErrClosed once the close handshake has completed.
func (c *Connection) RecvFrame() (*wsproto.Frame, error) {
	if c.state == Closed {
		return nil, ErrClosed
	}
	buf := make([]byte, 4096)
	for {
		frame, consumed, _, err := wsproto.Decode(c.ingress.Bytes(), false)
		if err == nil {
			c.ingress.Drain(consumed)
			return frame, nil
		}
		if err != wsproto.ErrNeedMore {
			c.lastErr = err
			return nil, err
		}
		n, rerr := c.sock.ReadTimeout(buf, c.timeout)
		if n > 0 {
			c.ingress.Append(buf[:n])
		}
		if rerr != nil {
			if socket.IsTimeout(rerr) {
				return nil, wsproto.WrapError(wsproto.ErrCodeTimeout, "wsconn: recv timed out", rerr)
			}
			c.lastErr = rerr
			return nil, wsproto.WrapError(wsproto.ErrCodeSocket, "wsconn: read frame", rerr)
		}
		if n == 0 {
			return nil, wsproto.WrapError(wsproto.ErrCodeSocket, "wsconn: connection reset by peer", errors.New("read returned 0 bytes"))
		}
	}
}

// RecvMessage reassembles DATA frames into a Message, handling control
// frames inline: PING triggers an immediate PONG echo, PONG is discarded,
// and CLOSE triggers an echoing CLOSE reply followed by socket teardown,
// after which RecvMessage (and any later call) returns ErrClosed.
func (c *Connection) RecvMessage() (*wsproto.Message, error) {
	var msg *wsproto.Message

	for {
		f, err := c.RecvFrame()
		if err != nil {
			return nil, err
		}

		switch f.Opcode {
		case wsproto.OpPing:
			if err := c.SendFrame(&wsproto.Frame{Fin: true, Opcode: wsproto.OpPong, Payload: f.Payload}); err != nil {
				return nil, err
			}
			continue
		case wsproto.OpPong:
			continue
		case wsproto.OpClose:
			return nil, c.handlePeerClose(f)
		}

		if msg == nil {
			if f.Opcode != wsproto.OpText && f.Opcode != wsproto.OpBinary {
				c.protocolError("wsconn: message must start with TEXT or BINARY")
				return nil, wsproto.NewError(wsproto.ErrCodeProtocol, "wsconn: unexpected opcode at start of message")
			}
			msg = &wsproto.Message{Opcode: f.Opcode}
		} else if f.Opcode != wsproto.OpContinuation {
			c.protocolError("wsconn: expected a continuation frame")
			return nil, wsproto.NewError(wsproto.ErrCodeProtocol, "wsconn: expected CONT frame mid-message")
		}

		msg.Data = append(msg.Data, f.Payload...)
		if f.Fin {
			return msg, nil
		}
	}
}

func (c *Connection) handlePeerClose(f *wsproto.Frame) error {
	code, reason, ok := wsproto.ParseClosePayload(f.Payload)
	if !ok {
		code = wsproto.CloseInvalidPayload
	}
	c.state = Closing
	echo := wsproto.SanitizeCloseCode(uint16(code))
	_ = c.SendFrame(&wsproto.Frame{Fin: true, Opcode: wsproto.OpClose, Payload: wsproto.BuildClosePayload(echo, reason)})
	c.sock.Close()
	c.state = Closed
	return ErrClosed
}

// protocolError sends a best-effort CLOSE(1002) before the caller reports
// the error; failures writing it are not themselves reported, since the
// connection is already being abandoned.
func (c *Connection) protocolError(reason string) {
	_ = c.SendFrame(&wsproto.Frame{Fin: true, Opcode: wsproto.OpClose, Payload: wsproto.BuildClosePayload(wsproto.CloseProtocolError, reason)})
	c.sock.Close()
	c.state = Closed
}

// Disconnect sends CLOSE(1000), waits up to the connection's timeout for
// the peer's CLOSE reply, and closes the socket regardless of whether one
// arrives.
func (c *Connection) Disconnect() error {
	if c.state != Open && c.state != Closing {
		return nil
	}
	c.state = Closing
	sendErr := c.SendFrame(&wsproto.Frame{Fin: true, Opcode: wsproto.OpClose, Payload: wsproto.BuildClosePayload(wsproto.CloseNormal, "")})

	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		f, err := c.RecvFrame()
		if err != nil {
			break
		}
		if f.Opcode == wsproto.OpClose {
			break
		}
	}

	c.state = Closed
	closeErr := c.sock.Close()
	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

// RawSocket exposes the underlying socket, used by the peer mesh to hand a
// successfully dialed outbound connection over to the server's I/O thread
// once the handshake completes off that thread.
func (c *Connection) RawSocket() *socket.Socket {
	return c.sock
}

// Leftover returns any bytes already read past the handshake response that
// have not yet been consumed as frame data, so a handoff to another reader
// does not lose buffered input.
func (c *Connection) Leftover() []byte {
	return c.ingress.Take()
}
