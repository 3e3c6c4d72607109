package server

import (
	"golang.org/x/sys/unix"

	"github.com/wsmq-io/wsmq/wsproto"
)

// ioloop wraps a Linux epoll instance plus an eventfd-backed async notifier,
// the single non-blocking multiplexer the I/O thread blocks in. It never
// itself calls read/write on a connection's fd; it only reports readiness.
type ioloop struct {
	epfd   int
	wakeFd int
	events []unix.EpollEvent
}

func newIOLoop(maxEvents int) (*ioloop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wsproto.WrapError(wsproto.ErrCodeResource, "ioloop: epoll_create1", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, wsproto.WrapError(wsproto.ErrCodeResource, "ioloop: eventfd", err)
	}
	l := &ioloop{
		epfd:   epfd,
		wakeFd: wakeFd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	if err := l.add(wakeFd, unix.EPOLLIN); err != nil {
		l.close()
		return nil, err
	}
	return l, nil
}

func (l *ioloop) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return wsproto.WrapError(wsproto.ErrCodeResource, "ioloop: epoll_ctl add", err)
	}
	return nil
}

func (l *ioloop) modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return wsproto.WrapError(wsproto.ErrCodeResource, "ioloop: epoll_ctl mod", err)
	}
	return nil
}

func (l *ioloop) remove(fd int) {
	// Best-effort: the fd may already be closed, which also drops it from
	// the epoll set.
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks up to timeoutMs (-1 blocks indefinitely) and returns the ready
// events for this round.
func (l *ioloop) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(l.epfd, l.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, wsproto.WrapError(wsproto.ErrCodeResource, "ioloop: epoll_wait", err)
	}
	return l.events[:n], nil
}

// wake is safe to call from any goroutine; it makes the I/O thread's
// epoll_wait return promptly even with no socket readiness to report, used
// to signal "the response queue has new items" or "shut down".
func (l *ioloop) wake() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(l.wakeFd, buf[:])
}

// drainWake clears the eventfd counter after the I/O thread has observed a
// wake event, so the next genuine wake is not swallowed by a stale counter.
func (l *ioloop) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(l.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (l *ioloop) close() {
	unix.Close(l.wakeFd)
	unix.Close(l.epfd)
}
