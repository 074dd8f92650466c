//go:build linux

package wsreactor

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/aviatorsys/wsreactor/pkg/wsconn"
)

// bindListener creates a non-blocking, IPv4 listening socket bound to
// addr ("host:port"), built directly from raw syscalls rather than
// net.Listen so the resulting file descriptor can be registered with
// epoll and driven entirely by the reactor's own readiness loop.
//
// It returns the port actually bound, which only differs from the
// requested one when addr asks for port 0 (the kernel picks a free
// ephemeral port, discovered here via getsockname so tests and
// diagnostics can report the reactor's real listen address).
func bindListener(addr string, backlog int) (fd int, boundPort int, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, 0, fmt.Errorf("failed to resolve listen address %q: %w", addr, err)
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("failed to create listening socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("failed to bind %q: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, 0, fmt.Errorf("failed to listen on %q: %w", addr, err)
	}

	boundPort = tcpAddr.Port
	if boundPort == 0 {
		sockname, err := unix.Getsockname(fd)
		if err != nil {
			_ = unix.Close(fd)
			return -1, 0, fmt.Errorf("failed to read bound address of %q: %w", addr, err)
		}
		if in4, ok := sockname.(*unix.SockaddrInet4); ok {
			boundPort = in4.Port
		}
	}

	return fd, boundPort, nil
}

// acceptAll accepts every connection currently pending on an
// edge-triggered listener, returning the accepted file descriptors. It
// stops at the first EAGAIN, which (per edge-triggered semantics) means
// the listener's backlog has been fully drained for this notification.
func acceptAll(listenFd int) ([]int, error) {
	var fds []int
	for {
		nfd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return fds, nil
			}
			if errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fds, fmt.Errorf("accept failed: %w", err)
		}
		fds = append(fds, nfd)
	}
}

// rawSocket adapts a raw, non-blocking file descriptor to wsconn.Socket.
type rawSocket struct {
	fd int
}

func (s *rawSocket) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, b)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return 0, wsconn.ErrWouldBlock
			}
			return 0, err
		}
		return n, nil
	}
}

func (s *rawSocket) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, b)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return n, wsconn.ErrWouldBlock
			}
			return n, err
		}
		return n, nil
	}
}

func (s *rawSocket) CloseWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
