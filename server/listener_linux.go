package server

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/wsmq-io/wsmq/wsproto"
)

// listenRaw opens a non-blocking, listening IPv4 TCP socket directly via
// golang.org/x/sys/unix, since the I/O thread needs a bare file descriptor
// to register with epoll rather than a net.Listener.
func listenRaw(host string, port int, backlog int) (fd int, addr string, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, "", wsproto.WrapError(wsproto.ErrCodeResource, "listener: socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, "", wsproto.WrapError(wsproto.ErrCodeResource, "listener: setsockopt SO_REUSEADDR", err)
	}

	ip, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return -1, "", err
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, "", wsproto.WrapError(wsproto.ErrCodeResource, "listener: bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, "", wsproto.WrapError(wsproto.ErrCodeResource, "listener: listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, "", wsproto.WrapError(wsproto.ErrCodeResource, "listener: set nonblocking", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, "", wsproto.WrapError(wsproto.ErrCodeResource, "listener: getsockname", err)
	}
	boundAddr := bound.(*unix.SockaddrInet4)
	addr = net.JoinHostPort(net.IP(boundAddr.Addr[:]).String(), strconv.Itoa(boundAddr.Port))

	return fd, addr, nil
}

func resolveIPv4(host string) ([]byte, error) {
	if host == "" || host == "0.0.0.0" {
		return []byte{0, 0, 0, 0}, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, wsproto.WrapError(wsproto.ErrCodeResource, "listener: resolve host", err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, wsproto.NewError(wsproto.ErrCodeResource, "listener: no IPv4 address for host "+host)
}

// acceptRaw accepts one pending connection from the non-blocking listening
// fd, returning unix.EAGAIN when none is pending.
func acceptRaw(listenFd int) (connFd int, remote string, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		remote = net.JoinHostPort(net.IP(sa4.Addr[:]).String(), strconv.Itoa(sa4.Port))
	}
	return nfd, remote, nil
}
