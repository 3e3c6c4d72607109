package server

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/wsmq-io/wsmq/httpupgrade"
	"github.com/wsmq-io/wsmq/message"
	"github.com/wsmq-io/wsmq/wsproto"
)

func (s *Server) handleConnEvent(fd int, events uint32) {
	cid, ok := s.fdToCid[fd]
	if !ok {
		return
	}
	rec := s.conns[cid]

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.teardownConn(rec)
		return
	}
	if events&unix.EPOLLIN != 0 {
		if !s.onReadable(rec) {
			return // rec was torn down
		}
	}
	if events&unix.EPOLLOUT != 0 {
		s.onWritable(rec)
	}
}

// onReadable drains as much as is available from rec's socket into its
// ingress buffer and feeds it to the HTTP-upgrade or frame pump as
// appropriate. It returns false if the connection was torn down.
func (s *Server) onReadable(rec *connRecord) bool {
	buf := make([]byte, 16384)
	for {
		n, err := unix.Read(rec.fd, buf)
		if n > 0 {
			rec.ingress.Append(buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			s.teardownConn(rec)
			return false
		}
		if n == 0 {
			// Orderly close: read returning 0 (spec §4.5 failure semantics).
			s.teardownConn(rec)
			return false
		}
		if n < len(buf) {
			break
		}
	}

	switch rec.state {
	case stateHTTPWait:
		if !s.pumpUpgrade(rec) {
			return false
		}
	case stateWSOpen, stateClosing:
		if !s.pumpFrames(rec) {
			return false
		}
	}

	s.applyBackpressure(rec)
	return true
}

func (s *Server) applyBackpressure(rec *connRecord) {
	n := rec.ingress.Len()
	if !rec.readDisabled && n > s.opts.HighWaterMark {
		rec.readDisabled = true
		s.setInterest(rec, false, rec.writeInterest)
	} else if rec.readDisabled && n <= s.opts.LowWaterMark {
		rec.readDisabled = false
		s.setInterest(rec, true, rec.writeInterest)
	}
}

func (s *Server) setInterest(rec *connRecord, read, write bool) {
	var events uint32
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	rec.writeInterest = write
	if err := s.loop.modify(rec.fd, events); err != nil {
		s.opts.Logger.Errorf("server: cid=%d setInterest: %v", rec.cid, err)
	}
}

func (s *Server) pumpUpgrade(rec *connRecord) bool {
	req, consumed, err := httpupgrade.ParseRequest(rec.ingress.Bytes())
	if err == wsproto.ErrNeedMore {
		return true
	}
	if err != nil {
		s.rejectUpgrade(rec, 400, "bad request")
		return false
	}
	rec.ingress.Drain(consumed)

	if err := httpupgrade.Validate(req); err != nil {
		s.rejectUpgrade(rec, 400, "invalid websocket upgrade")
		return false
	}

	protocol := ""
	if len(req.Protocols) > 0 {
		protocol = req.Protocols[0]
	}
	rec.queueWrite(httpupgrade.WriteAccept(req.Key, protocol))
	rec.state = stateWSOpen
	s.setInterest(rec, true, true)
	s.opts.Logger.Protocol("server: cid=%d upgraded to websocket", rec.cid)
	return true
}

func (s *Server) rejectUpgrade(rec *connRecord, status int, reason string) {
	rec.queueWrite(httpupgrade.WriteReject(status, reason))
	s.setInterest(rec, false, true)
	rec.state = stateClosing
	s.flushWrite(rec)
	s.teardownConn(rec)
}

// pumpFrames decodes as many complete frames as are buffered, handling
// control frames inline and enqueuing reassembled DATA messages for
// dispatch to a worker. It returns false if the connection was torn down.
func (s *Server) pumpFrames(rec *connRecord) bool {
	for {
		f, consumed, _, err := wsproto.Decode(rec.ingress.Bytes(), true)
		if err == wsproto.ErrNeedMore {
			return true
		}
		if err != nil {
			s.sendClose(rec, wsproto.CloseProtocolError, "protocol error")
			s.teardownConn(rec)
			return false
		}
		rec.ingress.Drain(consumed)

		switch f.Opcode {
		case wsproto.OpPing:
			s.writeFrame(rec, &wsproto.Frame{Fin: true, Opcode: wsproto.OpPong, Payload: f.Payload})
			continue
		case wsproto.OpPong:
			continue
		case wsproto.OpClose:
			s.handleClientClose(rec, f)
			return false
		}

		if rec.partial == nil {
			if f.Opcode != wsproto.OpText && f.Opcode != wsproto.OpBinary {
				s.sendClose(rec, wsproto.CloseProtocolError, "unexpected opcode")
				s.teardownConn(rec)
				return false
			}
			rec.partial = &wsproto.Message{Opcode: f.Opcode}
		} else if f.Opcode != wsproto.OpContinuation {
			s.sendClose(rec, wsproto.CloseProtocolError, "expected continuation frame")
			s.teardownConn(rec)
			return false
		}
		rec.partial.Data = append(rec.partial.Data, f.Payload...)

		if f.Fin {
			msg := rec.partial
			rec.partial = nil
			s.dispatchMessage(rec, msg)
		}
	}
}

func (s *Server) dispatchMessage(rec *connRecord, wsMsg *wsproto.Message) {
	var decoded *message.Message
	var err error
	switch wsMsg.Opcode {
	case wsproto.OpBinary:
		rec.format = message.MPACK
		decoded, err = message.DecodeMPACK(wsMsg.Data)
	case wsproto.OpText:
		rec.format = message.JSON
		decoded, err = message.DecodeJSON(wsMsg.Data)
	}
	if err != nil {
		s.opts.Logger.Protocol("server: cid=%d message decode failed: %v", rec.cid, err)
		return
	}
	shard := shardFor(rec.cid, s.opts.NumWorkers)
	s.reqChans[shard] <- workItem{cid: rec.cid, msg: decoded, ctx: rec.userCtx}
}

func (s *Server) handleClientClose(rec *connRecord, f *wsproto.Frame) {
	code, reason, ok := wsproto.ParseClosePayload(f.Payload)
	if !ok {
		code = wsproto.CloseInvalidPayload
	}
	rec.closeRecv = true
	if !rec.closeSent {
		s.sendClose(rec, wsproto.SanitizeCloseCode(uint16(code)), reason)
	}
	s.teardownConn(rec)
}

func (s *Server) sendClose(rec *connRecord, code wsproto.CloseCode, reason string) {
	if rec.closeSent {
		return
	}
	rec.closeSent = true
	rec.state = stateClosing
	s.writeFrame(rec, &wsproto.Frame{Fin: true, Opcode: wsproto.OpClose, Payload: wsproto.BuildClosePayload(code, reason)})
}

func (s *Server) writeFrame(rec *connRecord, f *wsproto.Frame) {
	rec.queueWrite(wsproto.Encode(f))
	s.setInterest(rec, !rec.readDisabled, true)
	s.flushWrite(rec)
}

// onWritable flushes as much of the egress buffer as the socket accepts.
func (s *Server) onWritable(rec *connRecord) {
	s.flushWrite(rec)
}

func (s *Server) flushWrite(rec *connRecord) {
	for rec.egress.Len() > 0 {
		n, err := unix.Write(rec.fd, rec.egress.Bytes())
		if n > 0 {
			rec.egress.Drain(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.teardownConn(rec)
			return
		}
		if n == 0 {
			return
		}
	}
	// Egress drained: disable EPOLLOUT until there is more to write.
	if rec.writeInterest {
		s.setInterest(rec, !rec.readDisabled, false)
	}
}

func (s *Server) teardownConn(rec *connRecord) {
	if rec.state == stateClosed {
		return
	}
	rec.state = stateClosed
	s.loop.remove(rec.fd)
	unix.Close(rec.fd)
	delete(s.conns, rec.cid)
	delete(s.fdToCid, rec.fd)
	atomic.AddInt32(&s.openConns, -1)
	s.opts.Logger.Thread("server: cid=%d torn down", rec.cid)
}

func (s *Server) drainResponses() {
	for {
		select {
		case item := <-s.responseCh:
			rec, ok := s.conns[item.cid]
			if !ok {
				continue
			}
			if item.close {
				s.sendClose(rec, wsproto.CloseInternalError, "callback error")
				continue
			}
			s.sendReply(rec, item.msg)
		default:
			return
		}
	}
}

func (s *Server) sendReply(rec *connRecord, msg *message.Message) {
	var wire []byte
	var opcode wsproto.OpCode
	var err error
	if rec.format == message.JSON {
		wire, err = message.EncodeJSON(msg)
		opcode = wsproto.OpText
	} else {
		wire, err = message.EncodeMPACK(msg)
		opcode = wsproto.OpBinary
	}
	if err != nil {
		s.opts.Logger.Errorf("server: cid=%d reply encode failed: %v", rec.cid, err)
		return
	}
	s.writeFrame(rec, &wsproto.Frame{Fin: true, Opcode: opcode, Payload: wire})
}
