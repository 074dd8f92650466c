//go:build linux

package wsreactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/aviatorsys/wsreactor/pkg/wsconn"
)

// interestEvents translates a wsconn.Interest into the epoll event mask
// that achieves it, always edge-triggered (EPOLLET): the reactor commits
// to draining every readable/writable socket to "would block" on each
// notification, exactly as edge-triggered mode requires.
func interestEvents(i wsconn.Interest) uint32 {
	switch {
	case i&wsconn.InterestWritable != 0:
		return unix.EPOLLOUT | unix.EPOLLET
	case i&wsconn.InterestReadable != 0:
		return unix.EPOLLIN | unix.EPOLLET
	default:
		return unix.EPOLLET
	}
}

// poller wraps a single epoll instance.
type poller struct {
	epfd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}
	return &poller{epfd: epfd}, nil
}

func (p *poller) add(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func (p *poller) modify(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func (p *poller) remove(fd int) error {
	// The event argument is ignored by EPOLL_CTL_DEL on current kernels,
	// but older kernels require a non-nil pointer.
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

// wait blocks until at least one registered fd is ready, or the poller is
// closed from another goroutine (which causes epoll_wait to return
// EBADF). It retries transparently on EINTR.
func (p *poller) wait(buf []unix.EpollEvent) ([]unix.EpollEvent, error) {
	for {
		n, err := unix.EpollWait(p.epfd, buf, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, err
		}
		return buf[:n], nil
	}
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
