// Package rpc implements the thin request/response helper described in
// spec §4.9: a correlation id stamped into a structured message's headers,
// matched against the id on whatever reply eventually arrives on the same
// connection. There is no pipelining beyond what distinct correlation ids
// allow — one Exec call owns the connection until it returns.
package rpc

import (
	"time"

	"github.com/google/uuid"

	"github.com/wsmq-io/wsmq/message"
	"github.com/wsmq-io/wsmq/wsconn"
	"github.com/wsmq-io/wsmq/wsproto"
)

// HeaderID is the header key carrying the correlation id. A reply echoes
// the request's id back in the same header for Exec to match against.
const HeaderID = "id"

// Client executes request/response exchanges over a single client
// wsconn.Connection. It is not safe for concurrent Exec calls sharing one
// Client, since a connection is itself single-threaded (spec §5).
type Client struct {
	conn *wsconn.Connection
}

// New builds a Client that sends and receives over conn.
func New(conn *wsconn.Connection) *Client {
	return &Client{conn: conn}
}

// Exec stamps msg with a fresh correlation id, sends it, and blocks for up
// to timeout waiting for a reply carrying the same id. Replies that don't
// match (a stale response to an earlier, already-abandoned Exec, or a
// message this Client doesn't understand) are dropped silently and waiting
// continues until the deadline. A zero timeout blocks until the underlying
// connection's own configured timeout elapses.
func (c *Client) Exec(msg *message.Message, timeout time.Duration) (*message.Message, error) {
	id := uuid.New().String()
	msg.Headers.Set(HeaderID, id)

	if err := c.send(msg); err != nil {
		return nil, err
	}

	if timeout > 0 {
		c.conn.SetTimeout(timeout)
	}
	deadline := time.Now().Add(timeout)

	for {
		if timeout > 0 && !time.Now().Before(deadline) {
			return nil, wsproto.NewError(wsproto.ErrCodeTimeout, "rpc: exec timed out waiting for reply")
		}

		wsMsg, err := c.conn.RecvMessage()
		if err != nil {
			return nil, err
		}

		reply, decErr := decode(wsMsg)
		if decErr != nil {
			continue
		}
		if replyID, ok := reply.Headers.Get(HeaderID); ok && replyID == id {
			return reply, nil
		}
	}
}

// send encodes msg per msg.Format (spec §3: format is the caller's own
// record of "the last encoding used" and the default for re-encoding) and
// writes it as the matching transport opcode: MPACK <-> BINARY, JSON <->
// TEXT.
func (c *Client) send(msg *message.Message) error {
	switch msg.Format {
	case message.JSON:
		wire, err := message.EncodeJSON(msg)
		if err != nil {
			return err
		}
		return c.conn.SendText(string(wire))
	default:
		wire, err := message.EncodeMPACK(msg)
		if err != nil {
			return err
		}
		return c.conn.SendBinary(wire)
	}
}

func decode(wsMsg *wsproto.Message) (*message.Message, error) {
	switch wsMsg.Opcode {
	case wsproto.OpBinary:
		return message.DecodeMPACK(wsMsg.Data)
	case wsproto.OpText:
		return message.DecodeJSON(wsMsg.Data)
	default:
		return nil, wsproto.NewError(wsproto.ErrCodeProtocol, "rpc: reply was not a structured message")
	}
}
