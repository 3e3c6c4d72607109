package server

import (
	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/message"
	"github.com/wsmq-io/wsmq/wsproto"
)

// connState is a connection's position in the HTTP_WAIT -> WS_OPEN ->
// CLOSING -> CLOSED lifecycle (spec §4.6).
type connState int

const (
	stateHTTPWait connState = iota
	stateWSOpen
	stateClosing
	stateClosed
)

// connRecord is the per-connection state exclusively owned by the I/O
// thread (spec §3 invariant: "Only the I/O thread mutates per-connection
// records"). Workers never see a *connRecord; they see a cid and a copy of
// whatever payload the I/O thread decided to hand off.
type connRecord struct {
	cid   uint64
	fd    int
	state connState

	ingress *buffer.Buffer
	egress  *buffer.Buffer

	writeInterest bool // whether EPOLLOUT is currently registered
	readDisabled  bool // backpressure: ingress exceeded HighWaterMark

	// partial is the in-progress reassembled WebSocket message, across
	// possibly several CONT frames, once the first DATA frame has arrived.
	partial *wsproto.Message

	format message.Format

	closeSent bool
	closeRecv bool

	userCtx interface{}
	isPeer  bool
}

func newConnRecord(cid uint64, fd int) *connRecord {
	return &connRecord{
		cid:     cid,
		fd:      fd,
		state:   stateHTTPWait,
		ingress: buffer.New(),
		egress:  buffer.New(),
	}
}

// queueWrite appends wire bytes to the connection's egress buffer. The
// caller is responsible for re-enabling write-readiness with the I/O loop.
func (c *connRecord) queueWrite(wire []byte) {
	c.egress.Append(wire)
}
