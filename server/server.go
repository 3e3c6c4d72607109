// Package server implements the non-blocking TCP server described in the
// spec's §4.5–§4.7: a single I/O thread multiplexing accept/read/write
// readiness via epoll, a fixed pool of worker goroutines dispatching
// decoded structured messages to a user callback, and the WebSocket upgrade
// and close-handshake layers sitting between the two.
package server

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/pkg/errors"

	"github.com/wsmq-io/wsmq/internal/socket"
	"github.com/wsmq-io/wsmq/wsproto"
)

// RunState is the server's Created -> Running -> Halting -> Halted
// lifecycle (spec §4.5).
type RunState int32

const (
	Created RunState = iota
	Running
	Halting
	Halted
)

// Server is a single-I/O-thread, N-worker WebSocket server.
type Server struct {
	opts    Options
	handler MessageHandler

	listenFd int
	addr     string
	loop     *ioloop

	nextCid uint64 // atomic

	conns   map[uint64]*connRecord
	fdToCid map[int]uint64

	reqChans   []chan workItem
	responseCh chan responseItem
	workerWG   sync.WaitGroup

	acceptLimiter *rate.Limiter

	shutdownOnce     sync.Once
	stopOnce         sync.Once
	state            int32 // atomic RunState
	openConns        int32 // atomic count of entries in conns, safe to read off the I/O thread
	halted           chan struct{}
	shutdownDeadline time.Time // I/O-thread-only; zero until beginShutdown runs
}

// New constructs a Server in the Created state. Call Handle to register the
// message callback, then Run to start serving.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{
		opts:       opts,
		conns:      make(map[uint64]*connRecord),
		fdToCid:    make(map[int]uint64),
		responseCh: make(chan responseItem, 1024),
		halted:     make(chan struct{}),
	}
	if opts.AcceptRate > 0 {
		s.acceptLimiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), int(opts.AcceptRate))
	}
	atomic.StoreInt32(&s.state, int32(Created))
	return s
}

// Handle registers the structured-message callback invoked once per
// reassembled message (spec §4.7).
func (s *Server) Handle(fn MessageHandler) {
	s.handler = fn
}

// State returns the server's current lifecycle state.
func (s *Server) State() RunState {
	return RunState(atomic.LoadInt32(&s.state))
}

// Addr returns the bound listen address, valid once Run has started
// listening.
func (s *Server) Addr() string {
	return s.addr
}

// Run opens the listening socket, starts the worker pool, and blocks
// running the I/O thread's event loop until Stop is called. It returns nil
// after a clean shutdown.
func (s *Server) Run(host string, port int) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(Created), int32(Running)) {
		return errors.New("server: Run called more than once")
	}

	fd, addr, err := listenRaw(host, port, s.opts.Backlog)
	if err != nil {
		return err
	}
	s.listenFd = fd
	s.addr = addr

	loop, err := newIOLoop(256)
	if err != nil {
		unix.Close(fd)
		return err
	}
	s.loop = loop
	if err := s.loop.add(s.listenFd, unix.EPOLLIN); err != nil {
		s.loop.close()
		unix.Close(fd)
		return err
	}

	s.reqChans = make([]chan workItem, s.opts.NumWorkers)
	for i := range s.reqChans {
		s.reqChans[i] = make(chan workItem, 256)
		s.workerWG.Add(1)
		go s.runWorker(i, s.reqChans[i])
	}

	s.opts.Logger.Thread("server: listening on %s with %d workers", s.addr, s.opts.NumWorkers)
	s.eventLoop()

	s.opts.Logger.Thread("server: halted")
	atomic.StoreInt32(&s.state, int32(Halted))
	close(s.halted)
	return nil
}

// Stop begins cooperative shutdown: it is safe to call from any goroutine.
// It returns once the I/O thread has finished tearing everything down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		atomic.StoreInt32(&s.state, int32(Halting))
		if s.loop != nil {
			s.loop.wake()
		}
	})
	if s.loop != nil {
		<-s.halted
	}
}

func (s *Server) eventLoop() {
	const pollTimeoutMs = 250
	for {
		if s.State() == Halting {
			if atomic.LoadInt32(&s.openConns) == 0 {
				s.finishShutdown()
				return
			}
			if !s.shutdownDeadline.IsZero() && !time.Now().Before(s.shutdownDeadline) {
				s.forceTeardownAll()
				s.finishShutdown()
				return
			}
		}

		events, err := s.loop.wait(pollTimeoutMs)
		if err != nil {
			s.opts.Logger.Errorf("server: %v", err)
			continue
		}

		for _, ev := range events {
			fd := int(ev.Fd)
			switch {
			case fd == s.loop.wakeFd:
				s.loop.drainWake()
				s.drainResponses()
				if s.State() == Halting {
					s.beginShutdown()
				}
			case fd == s.listenFd:
				s.acceptLoop()
			default:
				s.handleConnEvent(fd, ev.Events)
			}
		}
	}
}

func (s *Server) acceptLoop() {
	for {
		if s.opts.MaxConnections > 0 && len(s.conns) >= s.opts.MaxConnections {
			return
		}
		if s.acceptLimiter != nil && !s.acceptLimiter.Allow() {
			return
		}
		fd, remote, err := acceptRaw(s.listenFd)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			s.opts.Logger.Errorf("server: accept: %v", err)
			return
		}
		s.opts.Logger.Thread("server: accepted %s on fd=%d", remote, fd)
		s.registerConn(fd, nil)
	}
}

// registerConn assigns a cid, creates its record, and registers the fd with
// epoll. If leftover is non-nil it is pre-loaded into the ingress buffer
// (used by peer handoff, where the handshake already consumed some bytes
// off the socket before the I/O thread ever saw it).
func (s *Server) registerConn(fd int, leftover []byte) uint64 {
	cid := atomic.AddUint64(&s.nextCid, 1)
	rec := newConnRecord(cid, fd)
	if leftover != nil {
		rec.ingress.Append(leftover)
	}
	s.conns[cid] = rec
	s.fdToCid[fd] = cid
	atomic.AddInt32(&s.openConns, 1)
	if err := s.loop.add(fd, unix.EPOLLIN); err != nil {
		s.opts.Logger.Errorf("server: register cid=%d: %v", cid, err)
		s.teardownConn(rec)
		return 0
	}
	return cid
}

// Adopt hands an already-established outbound WebSocket connection (from
// the peer mesh, spec §4.8) to the I/O thread as a normal cid-bearing
// connection, skipping HTTP_WAIT since the handshake already completed on
// the dialing goroutine.
func (s *Server) Adopt(sock *socket.Socket, leftover []byte, ctx interface{}) (uint64, error) {
	fd, err := rawFd(sock.Conn())
	if err != nil {
		return 0, err
	}
	cid := atomic.AddUint64(&s.nextCid, 1)
	rec := newConnRecord(cid, fd)
	rec.state = stateWSOpen
	rec.isPeer = true
	rec.userCtx = ctx
	if leftover != nil {
		rec.ingress.Append(leftover)
	}
	s.conns[cid] = rec
	s.fdToCid[fd] = cid
	atomic.AddInt32(&s.openConns, 1)
	if err := s.loop.add(fd, unix.EPOLLIN); err != nil {
		delete(s.conns, cid)
		delete(s.fdToCid, fd)
		atomic.AddInt32(&s.openConns, -1)
		return 0, err
	}
	sock.Close()
	s.opts.Logger.Thread("server: adopted peer connection as cid=%d", cid)
	return cid, nil
}

// rawFd duplicates the file descriptor underlying conn so the server can
// own it independently of conn's own lifecycle, and puts the duplicate in
// non-blocking mode for epoll. The original conn is left untouched; the
// caller closes it once the duplicate is safely registered.
func rawFd(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errors.New("server: connection does not support raw fd access")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "server: SyscallConn")
	}
	var dupFd int
	var controlErr error
	err = raw.Control(func(fd uintptr) {
		dupFd, controlErr = unix.Dup(int(fd))
	})
	if err != nil {
		return -1, errors.Wrap(err, "server: raw control")
	}
	if controlErr != nil {
		return -1, errors.Wrap(controlErr, "server: dup")
	}
	if err := unix.SetNonblock(dupFd, true); err != nil {
		unix.Close(dupFd)
		return -1, errors.Wrap(err, "server: set nonblocking")
	}
	return dupFd, nil
}

// beginShutdown is called once, from the I/O thread, when Halting is first
// observed. It sends CLOSE(1001) to every open connection and records the
// deadline by which eventLoop will force-close whatever connections never
// replied (spec §4.5: "waits up to a small grace period … then shuts down
// listening and all connection sockets"). The forced teardown itself runs
// later, from eventLoop on the I/O thread, never from this call directly —
// per-connection records are exclusively owned by the I/O thread.
func (s *Server) beginShutdown() {
	s.shutdownOnce.Do(func() {
		s.opts.Logger.Thread("server: shutdown initiated, %d connections open", atomic.LoadInt32(&s.openConns))
		for _, rec := range s.conns {
			if rec.state == stateWSOpen && !rec.closeSent {
				s.sendClose(rec, wsproto.CloseGoingAway, "server shutting down")
			}
		}
		s.shutdownDeadline = time.Now().Add(s.opts.ShutdownGrace)
	})
}

// forceTeardownAll tears down every connection still open once the
// shutdown grace period has elapsed without a CLOSE reply. It runs on the
// I/O thread, the only goroutine allowed to mutate connRecords.
func (s *Server) forceTeardownAll() {
	if n := len(s.conns); n > 0 {
		s.opts.Logger.Thread("server: shutdown grace elapsed, force-closing %d connections", n)
	}
	for _, rec := range s.conns {
		s.teardownConn(rec)
	}
}

func (s *Server) finishShutdown() {
	for _, ch := range s.reqChans {
		close(ch)
	}
	s.workerWG.Wait()
	for fd := range s.fdToCid {
		unix.Close(fd)
	}
	unix.Close(s.listenFd)
	s.loop.close()
}
