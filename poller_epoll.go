//go:build linux

package netycat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd     int
	wakefd   int
	wakerBuf []byte
	events   []unix.EpollEvent
}

func newPoller(maxEvents int) (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, opError("epoll_create", "", err)
	}

	// eventfd for waking up the poller from another goroutine
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, opError("eventfd", "", err)
	}

	p := &epollPoller{
		epfd:     epfd,
		wakefd:   wakefd,
		wakerBuf: make([]byte, 8),
		events:   make([]unix.EpollEvent, max(1, maxEvents)),
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &event); err != nil {
		_ = p.Close()
		return nil, opError("epoll_ctl", "eventfd", err)
	}
	return p, nil
}

func (p *epollPoller) Add(fd int) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return opError("epoll_ctl", fmt.Sprintf("add fd %d", fd), err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return opError("epoll_ctl", fmt.Sprintf("del fd %d", fd), err)
	}
	return nil
}

// epollTimeout converts timeout to the millisecond argument of
// epoll_wait. Negative means block indefinitely.
func epollTimeout(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	// round up so a pending timer is never woken for early
	msec := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		msec++
	}
	return int(min(msec, math.MaxInt32))
}

func (p *epollPoller) Wait(timeout time.Duration, ready func(fd int, ev readiness)) error {
	n, err := unix.EpollWait(p.epfd, p.events, epollTimeout(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return opError("epoll_wait", "", err)
	}

	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWakeups()
			continue
		}

		var r readiness
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r |= readReady
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r |= writeReady
		}
		ready(fd, r)
	}
	return nil
}

func (p *epollPoller) drainWakeups() {
	for {
		if _, err := unix.Read(p.wakefd, p.wakerBuf); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wakeup() error {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, 1)
	if _, err := unix.Write(p.wakefd, buf); err != nil && !errors.Is(err, unix.EAGAIN) {
		return opError("eventfd_write", "", err)
	}
	return nil
}

func (p *epollPoller) Close() error {
	return multierr.Combine(
		opError("close", "eventfd", unix.Close(p.wakefd)),
		opError("close", "epoll", unix.Close(p.epfd)),
	)
}
